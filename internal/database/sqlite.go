package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteMigrations はSQLite用のスキーマ定義。冪等に再実行できること。
// 時刻はエポックミリ秒のINTEGERで保持する。
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS work_sessions (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id  TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms   INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON work_sessions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_active ON work_sessions (user_id, end_ms)`,
}

// OpenSQLite はpathのSQLiteデータベースを開き、スキーマを適用する。
// pathが":memory:"の場合はインメモリDBを使用する。
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// インメモリDBは接続ごとに別DBになるため1接続に制限する
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	for i, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migration %d failed: %w", i, err)
		}
	}

	return db, nil
}
