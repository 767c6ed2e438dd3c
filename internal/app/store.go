package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/coder/quartz"

	"github.com/hitoshi/timeclock/internal/config"
	"github.com/hitoshi/timeclock/internal/database"
	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/repository"
)

// storeHandle は開いたセッションストアと、その疎通確認・後始末をまとめたもの。
type storeHandle struct {
	store  repository.SessionStore
	health repository.HealthChecker
	db     *sql.DB // SQLバックエンドの場合のみ
}

// releaseDB はSQLバックエンドのDB接続を閉じる。ストア自体はLedger.Closeで閉じる。
func (h *storeHandle) releaseDB() error {
	if h.db == nil {
		return nil
	}
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// openStore は設定されたバックエンドのセッションストアを開く。
// postgresの場合は未適用のマイグレーションを先に適用する。
func openStore(ctx context.Context, cfg *config.Config, collector metrics.MetricsCollector, logger *slog.Logger) (*storeHandle, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("using in-memory session store; data is lost on restart")
		store := repository.NewMemorySessionStore()
		return &storeHandle{store: store, health: store}, nil

	case config.StoreFile:
		store, err := repository.OpenFileSessionStore(cfg.DataDir, repository.FileStoreOptions{
			Policy: cfg.PersistPolicy,
			Logger: logger,
			OnWriteError: func(op string, err error) {
				collector.RecordPersistenceFailure(op)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return &storeHandle{store: store, health: store}, nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite session store opened",
			slog.String("path", cfg.SQLitePath),
		)
		return &storeHandle{store: repository.NewSQLiteSessionRepo(db), health: db, db: db}, nil

	case config.StorePostgres:
		var version uint
		err := database.Retry(ctx, quartz.NewReal(), cfg.DBConnectAttempts, logger, func(ctx context.Context) error {
			v, err := database.RunMigrations(cfg.DatabaseURL)
			version = v
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("database schema is up to date",
			slog.Uint64("version", uint64(version)),
		)

		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established")
		return &storeHandle{store: repository.NewPostgresSessionRepo(db), health: db, db: db}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
