package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// elapsedMsExpr は1セッションの経過ミリ秒を求める式。
// 稼働中セッション（end_ts IS NULL）は$nowまでを経過とし、負の値は0に丸める。
const elapsedMsExpr = `GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (COALESCE(end_ts, $%d::timestamptz) - start_ts)) * 1000))`

// PostgresSessionRepo はPostgreSQLを使用した追記型のセッションリポジトリ。
// セッションは1行ずつ保持し、累計は問い合わせ時に集計する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindActive はユーザーの稼働中セッションを取得する。存在しない場合はnilを返す。
func (r *PostgresSessionRepo) FindActive(ctx context.Context, userID string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, start_ts
		 FROM work_sessions
		 WHERE user_id = $1 AND end_ts IS NULL
		 ORDER BY start_ts DESC
		 LIMIT 1`,
		userID,
	).Scan(&session.ID, &session.UserID, &session.StartedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}

	return session, nil
}

// Start は稼働中セッションの行を追加する。
func (r *PostgresSessionRepo) Start(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	session := &model.Session{UserID: userID, StartedAt: at}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO work_sessions (user_id, start_ts) VALUES ($1, $2) RETURNING id`,
		userID, at,
	).Scan(&session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return session, nil
}

// Finish は稼働中セッションにend_tsを記録する。稼働中セッションが存在しない場合はnilを返す。
func (r *PostgresSessionRepo) Finish(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	session := &model.Session{UserID: userID}
	var endedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`UPDATE work_sessions
		 SET end_ts = $2
		 WHERE user_id = $1 AND end_ts IS NULL
		 RETURNING id, start_ts, end_ts`,
		userID, at,
	).Scan(&session.ID, &session.StartedAt, &endedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish session: %w", err)
	}

	session.EndedAt = &endedAt
	return session, nil
}

// SumByUser はユーザーの全セッションの経過ミリ秒を集計する。
func (r *PostgresSessionRepo) SumByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(`+fmt.Sprintf(elapsedMsExpr, 2)+`), 0)::BIGINT
		 FROM work_sessions
		 WHERE user_id = $1`,
		userID, now,
	).Scan(&ms)
	if err != nil {
		return 0, fmt.Errorf("failed to sum user sessions: %w", err)
	}
	return ms, nil
}

// SumAll は全ユーザーの累計を初出順（最小のid順）で返す。
func (r *PostgresSessionRepo) SumAll(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(SUM(`+fmt.Sprintf(elapsedMsExpr, 1)+`), 0)::BIGINT AS ms
		 FROM work_sessions
		 GROUP BY user_id
		 ORDER BY MIN(id)`,
		now,
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

// ListActive は稼働中セッションを開始順に返す。
func (r *PostgresSessionRepo) ListActive(ctx context.Context) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, start_ts
		 FROM work_sessions
		 WHERE end_ts IS NULL
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s := &model.Session{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan active session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active sessions: %w", err)
	}
	return sessions, nil
}

// Reset は全セッションを削除し、idの採番もリセットする。
func (r *PostgresSessionRepo) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE work_sessions RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to reset sessions: %w", err)
	}
	return nil
}

// Close は何もしない。DB接続の所有者（app）が閉じる。
func (r *PostgresSessionRepo) Close() error {
	return nil
}

// PingContext はDB接続を確認する。
func (r *PostgresSessionRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ SessionStore = (*PostgresSessionRepo)(nil)
