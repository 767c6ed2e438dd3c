package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/timeclock/internal/database"
	"github.com/hitoshi/timeclock/internal/logger"
	"github.com/hitoshi/timeclock/internal/repository"
)

// StoreBackend はセッションの永続化先の種類を表す。
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
	StoreSQLite   StoreBackend = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Discord
	Token     string
	ClientID  string
	ChannelID string
	GuildID   string

	// Storage
	StoreBackend  StoreBackend
	DatabaseURL   string
	DataDir       string
	SQLitePath    string
	PersistPolicy repository.PersistPolicy

	// 起動時のDB接続試行回数（postgresのみ）
	DBConnectAttempts int

	// Rate Limit（1分あたりの許可数）
	RateLimitInteractions int
	RateLimitHTTP         int

	// Reset
	ResetConfirmTTL time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.Token = os.Getenv("TOKEN")
	if cfg.Token == "" {
		missing = append(missing, "TOKEN")
	}

	cfg.ClientID = os.Getenv("CLIENT_ID")
	if cfg.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}

	cfg.ChannelID = os.Getenv("CHANNEL_ID")
	if cfg.ChannelID == "" {
		missing = append(missing, "CHANNEL_ID")
	}

	cfg.StoreBackend = StoreBackend(getEnvString("STORE_BACKEND", string(StorePostgres)))
	switch cfg.StoreBackend {
	case StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			host := os.Getenv("PGHOST")
			if host == "" {
				missing = append(missing, "DATABASE_URL or PGHOST")
			} else {
				cfg.DatabaseURL = database.BuildPostgresURL(database.PostgresParams{
					Host:     host,
					Port:     os.Getenv("PGPORT"),
					Database: os.Getenv("PGDATABASE"),
					User:     os.Getenv("PGUSER"),
					Password: os.Getenv("PGPASSWORD"),
					SSLMode:  os.Getenv("PGSSLMODE"),
				})
			}
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: must be one of memory, file, postgres, sqlite", cfg.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GuildID = getEnvString("GUILD_ID", "")
	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "./data/timeclock.db")
	cfg.DBConnectAttempts = getEnvInt("DB_CONNECT_ATTEMPTS", 5)
	cfg.RateLimitInteractions = getEnvInt("RATE_LIMIT_INTERACTIONS", 30)
	cfg.RateLimitHTTP = getEnvInt("RATE_LIMIT_HTTP", 60)
	cfg.ResetConfirmTTL = getEnvDuration("RESET_CONFIRM_TTL", time.Minute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = getEnvString("LOG_FILE", "")
	// PaaSが注入するPORTはSERVER_PORTが未設定の場合のみ使う
	cfg.ServerPort = getEnvString("SERVER_PORT", getEnvString("PORT", "8080"))

	cfg.PersistPolicy = repository.PersistPolicy(getEnvString("PERSIST_POLICY", string(repository.PersistStrict)))
	switch cfg.PersistPolicy {
	case repository.PersistStrict:
	case repository.PersistBestEffort:
		if cfg.StoreBackend != StoreFile {
			return nil, fmt.Errorf("PERSIST_POLICY=%s is only supported with STORE_BACKEND=file", cfg.PersistPolicy)
		}
	default:
		return nil, fmt.Errorf("invalid PERSIST_POLICY %q: must be strict or best_effort", cfg.PersistPolicy)
	}

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
