package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/timeclock/internal/bot"
	"github.com/hitoshi/timeclock/internal/config"
	"github.com/hitoshi/timeclock/internal/database"
	"github.com/hitoshi/timeclock/internal/handler"
	"github.com/hitoshi/timeclock/internal/ledger"
	"github.com/hitoshi/timeclock/internal/logger"
	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/ratelimit"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	closer, err := logger.Configure(w, logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer closer.Close()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store", string(cfg.StoreBackend)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はBotとキープアライブ用HTTPサーバーを起動する。
// ストアを開き、全依存関係をワイヤリングしてからDiscordに接続する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. セッションストアと台帳
	handle, err := openStore(context.Background(), cfg, collector, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.releaseDB(); err != nil {
			log.Error("failed to release database", slog.String("error", err.Error()))
		}
	}()

	l := ledger.New(handle.store, collector, log)
	defer func() {
		// ファイルストアではここで最終スナップショットを書き出す
		if err := l.Close(); err != nil {
			log.Error("failed to close ledger", slog.String("error", err.Error()))
		}
	}()

	if err := l.SyncMetrics(context.Background()); err != nil {
		log.Warn("failed to sync active session gauge", slog.String("error", err.Error()))
	}

	// 3. レート制限
	interactionLimiter := ratelimit.New(ratelimit.Config{PerMinute: cfg.RateLimitInteractions})
	defer interactionLimiter.Stop()
	httpLimiter := ratelimit.New(ratelimit.Config{PerMinute: cfg.RateLimitHTTP})
	defer httpLimiter.Stop()

	// 4. Bot
	dispatcher := bot.NewDispatcher(l, bot.DispatcherConfig{
		Limiter:  interactionLimiter,
		ResetTTL: cfg.ResetConfirmTTL,
		Metrics:  collector,
		Logger:   log,
	})

	adapter, err := bot.NewDiscordAdapter(bot.DiscordConfig{
		Token:     cfg.Token,
		ClientID:  cfg.ClientID,
		ChannelID: cfg.ChannelID,
		GuildID:   cfg.GuildID,
	}, dispatcher, log)
	if err != nil {
		return err
	}

	// 5. キープアライブ用HTTPサーバー
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        log,
		RateLimiter:   httpLimiter,
		HealthChecker: handle.health,
		Ledger:        l,
		Gatherer:      reg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("keepalive server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := adapter.Open(); err != nil {
		shutdownServer(server, log)
		return err
	}
	log.Info("discord session opened")

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		log.Info("shutting down...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server listen error", slog.String("error", err.Error()))
		runErr = fmt.Errorf("keepalive server failed: %w", err)
	}

	if err := adapter.Close(); err != nil {
		log.Error("failed to close discord session", slog.String("error", err.Error()))
	}
	shutdownServer(server, log)

	log.Info("stopped gracefully")
	return runErr
}

func shutdownServer(server *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.String("error", err.Error()))
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// postgresではすべての未適用マイグレーションを順番に適用し、sqliteではスキーマを作成する。
func runMigrate(cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
		)
		return nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer db.Close()
		slog.Info("sqlite schema is up to date",
			slog.String("path", cfg.SQLitePath),
		)
		return nil

	default:
		slog.Info("store backend has no schema to migrate",
			slog.String("store", string(cfg.StoreBackend)),
		)
		return nil
	}
}

// healthcheckPort はヘルスチェック対象のポートを環境変数から決める。
// Configと同じくSERVER_PORT、PORTの順に参照する。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
