// Package ledger はセッションのライフサイクルと累計時間の導出を担う台帳を提供する。
// 現在時刻は常に呼び出し側から渡され、台帳自身は時計を読まない。
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
)

// Ledger はセッション状態の唯一の所有者であり、唯一の更新者である。
// 出勤・退勤・リセットはmuで直列化し、同一ユーザーの二重出勤を防ぐ。
type Ledger struct {
	mu      sync.Mutex
	store   repository.SessionStore
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// New はstoreを永続化先とするLedgerを生成する。
// collectorとloggerがnilの場合は何も記録しない実装とデフォルトロガーを使用する。
func New(store repository.SessionStore, collector metrics.MetricsCollector, logger *slog.Logger) *Ledger {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:   store,
		metrics: collector,
		logger:  logger,
	}
}

// HasActive はユーザーの稼働中セッションを返す。存在しない場合はnilを返す。
func (l *Ledger) HasActive(ctx context.Context, userID string) (*model.Session, error) {
	session, err := l.store.FindActive(ctx, userID)
	if err != nil {
		return nil, l.persistenceError("find_active", err)
	}
	return session, nil
}

// ClockIn はnowを開始時刻とする稼働中セッションを作成する。
// 既に稼働中セッションがある場合はAlreadyActiveエラーを返し、状態を変更しない。
func (l *Ledger) ClockIn(ctx context.Context, userID string, now time.Time) (*model.Session, error) {
	now = truncateMillis(now)
	l.mu.Lock()
	defer l.mu.Unlock()

	active, err := l.store.FindActive(ctx, userID)
	if err != nil {
		return nil, l.persistenceError("find_active", err)
	}
	if active != nil {
		return nil, l.reject(model.NewAlreadyActiveError(userID))
	}

	session, err := l.store.Start(ctx, userID, now)
	if err != nil {
		return nil, l.persistenceError("start", err)
	}

	l.metrics.RecordClockIn()
	l.refreshActiveGauge(ctx)
	return session, nil
}

// ClockOut は稼働中セッションをnowで終了し、経過ミリ秒を返す。
// 稼働中セッションがない場合はNoActiveSession、nowが開始時刻より前の場合は
// InvalidIntervalを返し、いずれも状態を変更しない。
func (l *Ledger) ClockOut(ctx context.Context, userID string, now time.Time) (int64, error) {
	now = truncateMillis(now)
	l.mu.Lock()
	defer l.mu.Unlock()

	active, err := l.store.FindActive(ctx, userID)
	if err != nil {
		return 0, l.persistenceError("find_active", err)
	}
	if active == nil {
		return 0, l.reject(model.NewNoActiveSessionError(userID))
	}

	elapsed := now.Sub(active.StartedAt)
	if elapsed < 0 {
		return 0, l.reject(model.NewInvalidIntervalError(userID, model.Millis(elapsed)))
	}

	finished, err := l.store.Finish(ctx, userID, now)
	if err != nil {
		return 0, l.persistenceError("finish", err)
	}
	if finished == nil {
		return 0, l.reject(model.NewNoActiveSessionError(userID))
	}

	l.metrics.RecordClockOut(elapsed)
	l.refreshActiveGauge(ctx)
	return model.Millis(elapsed), nil
}

// CurrentElapsed は稼働中セッションのnowまでの経過ミリ秒を返す。状態は変更しない。
func (l *Ledger) CurrentElapsed(ctx context.Context, userID string, now time.Time) (int64, error) {
	active, err := l.HasActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	if active == nil {
		return 0, l.reject(model.NewNoActiveSessionError(userID))
	}

	elapsed := active.Elapsed(truncateMillis(now))
	if elapsed < 0 {
		return 0, l.reject(model.NewInvalidIntervalError(userID, model.Millis(elapsed)))
	}
	return model.Millis(elapsed), nil
}

// TotalFor はユーザーの終了済みセッションの合計に、稼働中セッションのnowまでの経過を加えた値を返す。
// 未知のユーザーは0を返す。
func (l *Ledger) TotalFor(ctx context.Context, userID string, now time.Time) (int64, error) {
	total, err := l.store.SumByUser(ctx, userID, truncateMillis(now))
	if err != nil {
		return 0, l.persistenceError("sum_by_user", err)
	}
	return total, nil
}

// AllTotals は全ユーザーの累計を降順で返す。
// 同値の場合は初出順を保つ。誰も出勤したことがない場合は空のスライスを返す。
func (l *Ledger) AllTotals(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	totals, err := l.store.SumAll(ctx, truncateMillis(now))
	if err != nil {
		return nil, l.persistenceError("sum_all", err)
	}
	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].ElapsedMs > totals[j].ElapsedMs
	})
	return totals, nil
}

// ListActive は稼働中のユーザーIDを初出順で返す。
func (l *Ledger) ListActive(ctx context.Context) ([]string, error) {
	sessions, err := l.store.ListActive(ctx)
	if err != nil {
		return nil, l.persistenceError("list_active", err)
	}
	userIDs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		userIDs = append(userIDs, s.UserID)
	}
	return userIDs, nil
}

// ResetAll は全てのセッションと累計を無条件に破棄する。取り消しはできない。
func (l *Ledger) ResetAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Reset(ctx); err != nil {
		return l.persistenceError("reset", err)
	}

	l.logger.Warn("all session data has been reset")
	l.metrics.SetActiveSessions(0)
	return nil
}

// SyncMetrics は稼働中セッション数のゲージを永続化済みの状態に合わせる。起動時に呼ぶ。
func (l *Ledger) SyncMetrics(ctx context.Context) error {
	sessions, err := l.store.ListActive(ctx)
	if err != nil {
		return l.persistenceError("list_active", err)
	}
	l.metrics.SetActiveSessions(len(sessions))
	return nil
}

// Close は永続化先を閉じる。ファイルストアでは最終スナップショットを書き出す。
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}

func (l *Ledger) refreshActiveGauge(ctx context.Context) {
	sessions, err := l.store.ListActive(ctx)
	if err != nil {
		l.logger.Warn("failed to count active sessions",
			slog.String("error", err.Error()),
		)
		return
	}
	l.metrics.SetActiveSessions(len(sessions))
}

func (l *Ledger) reject(err *model.APIError) error {
	l.metrics.RecordRejected(err.Code)
	return err
}

// persistenceError はストアのエラーをPersistenceFailureに変換する。
// ストアが既にAPIErrorを返している場合はそのまま返す。
func (l *Ledger) persistenceError(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	l.logger.Error("persistence operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	l.metrics.RecordPersistenceFailure(op)
	l.metrics.RecordRejected(model.ErrCodePersistenceFailure)
	return model.NewPersistenceError(op, err)
}

// truncateMillis は時刻をミリ秒に切り捨てる。スナップショットとDBはミリ秒精度で保存される。
func truncateMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
