package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// SQLiteSessionRepo はSQLiteを使用した追記型のセッションリポジトリ。
// 時刻はエポックミリ秒で保持する。
type SQLiteSessionRepo struct {
	db *sql.DB
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db}
}

func (r *SQLiteSessionRepo) FindActive(ctx context.Context, userID string) (*model.Session, error) {
	session := &model.Session{}
	var startMs int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, start_ms
		 FROM work_sessions
		 WHERE user_id = ? AND end_ms IS NULL
		 ORDER BY start_ms DESC
		 LIMIT 1`,
		userID,
	).Scan(&session.ID, &session.UserID, &startMs)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}

	session.StartedAt = time.UnixMilli(startMs)
	return session, nil
}

func (r *SQLiteSessionRepo) Start(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO work_sessions (user_id, start_ms) VALUES (?, ?)`,
		userID, at.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read session id: %w", err)
	}
	return &model.Session{ID: id, UserID: userID, StartedAt: time.UnixMilli(at.UnixMilli())}, nil
}

func (r *SQLiteSessionRepo) Finish(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session := &model.Session{UserID: userID}
	var startMs int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, start_ms FROM work_sessions
		 WHERE user_id = ? AND end_ms IS NULL
		 ORDER BY start_ms DESC
		 LIMIT 1`,
		userID,
	).Scan(&session.ID, &startMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}

	endMs := at.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE work_sessions SET end_ms = ? WHERE user_id = ? AND end_ms IS NULL`,
		endMs, userID,
	); err != nil {
		return nil, fmt.Errorf("failed to finish session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	endedAt := time.UnixMilli(endMs)
	session.StartedAt = time.UnixMilli(startMs)
	session.EndedAt = &endedAt
	return session, nil
}

func (r *SQLiteSessionRepo) SumByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(MAX(0, COALESCE(end_ms, ?) - start_ms)), 0)
		 FROM work_sessions
		 WHERE user_id = ?`,
		now.UnixMilli(), userID,
	).Scan(&ms)
	if err != nil {
		return 0, fmt.Errorf("failed to sum user sessions: %w", err)
	}
	return ms, nil
}

func (r *SQLiteSessionRepo) SumAll(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(SUM(MAX(0, COALESCE(end_ms, ?) - start_ms)), 0) AS ms
		 FROM work_sessions
		 GROUP BY user_id
		 ORDER BY MIN(id)`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum all sessions: %w", err)
	}
	defer rows.Close()

	var totals []model.UserTotal
	for rows.Next() {
		var total model.UserTotal
		if err := rows.Scan(&total.UserID, &total.ElapsedMs); err != nil {
			return nil, fmt.Errorf("failed to scan user total: %w", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user totals: %w", err)
	}
	return totals, nil
}

func (r *SQLiteSessionRepo) ListActive(ctx context.Context) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, start_ms FROM work_sessions WHERE end_ms IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s := &model.Session{}
		var startMs int64
		if err := rows.Scan(&s.ID, &s.UserID, &startMs); err != nil {
			return nil, fmt.Errorf("failed to scan active session: %w", err)
		}
		s.StartedAt = time.UnixMilli(startMs)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active sessions: %w", err)
	}
	return sessions, nil
}

// Reset は全セッションを削除し、AUTOINCREMENTの採番状態も消去する。
func (r *SQLiteSessionRepo) Reset(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_sessions`); err != nil {
		return fmt.Errorf("failed to reset sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'work_sessions'`); err != nil {
		return fmt.Errorf("failed to reset session sequence: %w", err)
	}
	return tx.Commit()
}

// Close は何もしない。DB接続の所有者（app）が閉じる。
func (r *SQLiteSessionRepo) Close() error {
	return nil
}

// PingContext はDB接続を確認する。
func (r *SQLiteSessionRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ SessionStore = (*SQLiteSessionRepo)(nil)
