// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// SessionStore は勤務セッションの永続化インターフェース。
// 排他制御は呼び出し側（ledger）が行う前提で、各メソッドは単独で完結する。
type SessionStore interface {
	// FindActive はユーザーの稼働中セッションを返す。存在しない場合はnilを返す。
	FindActive(ctx context.Context, userID string) (*model.Session, error)

	// Start は開始時刻atの稼働中セッションを作成する。
	Start(ctx context.Context, userID string, at time.Time) (*model.Session, error)

	// Finish は稼働中セッションに終了時刻atを記録し、終了したセッションを返す。
	// 稼働中セッションが存在しない場合はnilを返す。
	Finish(ctx context.Context, userID string, at time.Time) (*model.Session, error)

	// SumByUser はユーザーの終了済みセッションの合計と、稼働中セッションのnowまでの経過を足した値を返す。
	SumByUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// SumAll は全ユーザーの累計を初出順（最初に出勤した順）で返す。並び替えは行わない。
	SumAll(ctx context.Context, now time.Time) ([]model.UserTotal, error)

	// ListActive は稼働中セッションを初出順で返す。
	ListActive(ctx context.Context) ([]*model.Session, error)

	// Reset は全セッションと累計を破棄する。
	Reset(ctx context.Context) error

	// Close はストアを閉じる。ファイルストアでは最終フラッシュとロック解放を行う。
	Close() error
}

// HealthChecker は永続化層の疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
