package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// ledgerState は稼働中セッションとユーザーごとの累計を保持するインメモリ状態。
// 終了済みセッションは累計に畳み込まれ、個々の履歴は保持しない。
type ledgerState struct {
	order  []string             // ユーザーの初出順
	active map[string]time.Time // userID -> 開始時刻
	totals map[string]int64     // userID -> 終了済みセッションの累計（ミリ秒）
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		active: make(map[string]time.Time),
		totals: make(map[string]int64),
	}
}

// clone はロールバック用に状態の複製を返す。
func (s *ledgerState) clone() *ledgerState {
	c := &ledgerState{
		order:  append([]string(nil), s.order...),
		active: make(map[string]time.Time, len(s.active)),
		totals: make(map[string]int64, len(s.totals)),
	}
	for k, v := range s.active {
		c.active[k] = v
	}
	for k, v := range s.totals {
		c.totals[k] = v
	}
	return c
}

// track は未登録のユーザーを初出順の末尾に追加する。
func (s *ledgerState) track(userID string) {
	if _, ok := s.totals[userID]; ok {
		return
	}
	s.totals[userID] = 0
	s.order = append(s.order, userID)
}

func (s *ledgerState) findActive(userID string) *model.Session {
	start, ok := s.active[userID]
	if !ok {
		return nil
	}
	return &model.Session{UserID: userID, StartedAt: start}
}

func (s *ledgerState) start(userID string, at time.Time) *model.Session {
	s.track(userID)
	s.active[userID] = at
	return &model.Session{UserID: userID, StartedAt: at}
}

func (s *ledgerState) finish(userID string, at time.Time) *model.Session {
	start, ok := s.active[userID]
	if !ok {
		return nil
	}
	delete(s.active, userID)
	s.track(userID)
	s.totals[userID] += at.Sub(start).Milliseconds()

	end := at
	return &model.Session{UserID: userID, StartedAt: start, EndedAt: &end}
}

// openElapsed は稼働中セッションのnowまでの経過ミリ秒を返す。負の値は0に丸める。
func (s *ledgerState) openElapsed(userID string, now time.Time) int64 {
	start, ok := s.active[userID]
	if !ok {
		return 0
	}
	ms := now.Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (s *ledgerState) sumByUser(userID string, now time.Time) int64 {
	return s.totals[userID] + s.openElapsed(userID, now)
}

func (s *ledgerState) sumAll(now time.Time) []model.UserTotal {
	totals := make([]model.UserTotal, 0, len(s.order))
	for _, userID := range s.order {
		totals = append(totals, model.UserTotal{
			UserID:    userID,
			ElapsedMs: s.sumByUser(userID, now),
		})
	}
	return totals
}

func (s *ledgerState) listActive() []*model.Session {
	sessions := make([]*model.Session, 0, len(s.active))
	for _, userID := range s.order {
		if start, ok := s.active[userID]; ok {
			sessions = append(sessions, &model.Session{UserID: userID, StartedAt: start})
		}
	}
	return sessions
}

// MemorySessionStore はプロセスメモリのみに状態を保持するSessionStore。
// 再起動で全データが失われる。
type MemorySessionStore struct {
	mu    sync.RWMutex
	state *ledgerState
}

// NewMemorySessionStore はMemorySessionStoreを生成する。
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{state: newLedgerState()}
}

// FindActive はユーザーの稼働中セッションを返す。存在しない場合はnilを返す。
func (m *MemorySessionStore) FindActive(ctx context.Context, userID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findActive(userID), nil
}

// Start は稼働中セッションを作成する。
func (m *MemorySessionStore) Start(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.start(userID, at), nil
}

// Finish は稼働中セッションを終了し、経過時間を累計に加算する。
func (m *MemorySessionStore) Finish(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.finish(userID, at), nil
}

// SumByUser はユーザーの累計を返す。
func (m *MemorySessionStore) SumByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sumByUser(userID, now), nil
}

// SumAll は全ユーザーの累計を初出順で返す。
func (m *MemorySessionStore) SumAll(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sumAll(now), nil
}

// ListActive は稼働中セッションを初出順で返す。
func (m *MemorySessionStore) ListActive(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listActive(), nil
}

// Reset は全状態を破棄する。
func (m *MemorySessionStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newLedgerState()
	return nil
}

// Close は何もしない。
func (m *MemorySessionStore) Close() error {
	return nil
}

// PingContext は常に成功する。
func (m *MemorySessionStore) PingContext(ctx context.Context) error {
	return nil
}

// compile-time interface check
var _ SessionStore = (*MemorySessionStore)(nil)
