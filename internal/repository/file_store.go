package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/hitoshi/timeclock/internal/model"
)

// ファイルストアが使用するファイル名。
const (
	ActiveSessionsFile = "active_sessions.json"
	TotalsFile         = "totals.json"
	lockFile           = "timeclock.lock"
)

// PersistPolicy は書き込み失敗時の振る舞いを表す。
type PersistPolicy string

const (
	// PersistStrict は書き込み失敗時に操作全体を失敗させ、メモリ上の変更をロールバックする。
	PersistStrict PersistPolicy = "strict"
	// PersistBestEffort は書き込み失敗をログに記録し、メモリ上の変更を維持して処理を継続する。
	PersistBestEffort PersistPolicy = "best_effort"
)

// FileStoreOptions はFileSessionStoreの設定を保持する。
type FileStoreOptions struct {
	Policy PersistPolicy
	Logger *slog.Logger
	// OnWriteError はbest_effortで書き込みエラーを握りつぶした際に呼ばれる。メトリクス用。
	OnWriteError func(op string, err error)
}

// ErrStoreClosed はClose後のストアに書き込もうとした場合に返される。
var ErrStoreClosed = errors.New("session store is closed")

// activeEntry はactive_sessions.jsonの値の形式。
type activeEntry struct {
	Start int64 `json:"start"`
}

// FileSessionStore は変更のたびに全状態をJSONファイルへスナップショットするSessionStore。
// 稼働中セッションと累計の2ファイルを保持し、キーは初出順で書き出す。
// データディレクトリはflockで排他し、同一ディレクトリを複数プロセスで共有しない。
type FileSessionStore struct {
	mu     sync.RWMutex
	state  *ledgerState
	dir    string
	lock   *flock.Flock
	policy PersistPolicy
	logger *slog.Logger
	onErr  func(op string, err error)
	closed bool

	writeFile func(path string, r io.Reader) error
}

// OpenFileSessionStore はdirのスナップショットを読み込んでFileSessionStoreを生成する。
// ファイルが存在しない、または破損している場合は空の状態から開始する。
// 他プロセスがdirのロックを保持している場合はエラーを返す。
func OpenFileSessionStore(dir string, opts FileStoreOptions) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is in use by another process", dir)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = PersistStrict
	}

	s := &FileSessionStore{
		dir:       dir,
		lock:      lock,
		policy:    policy,
		logger:    logger,
		onErr:     opts.OnWriteError,
		writeFile: atomic.WriteFile,
	}

	state, err := loadSnapshot(dir)
	if err != nil {
		logger.Warn("snapshot is unreadable, starting with empty state",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		state = newLedgerState()
	}
	s.state = state

	logger.Info("file session store opened",
		slog.String("dir", dir),
		slog.String("policy", string(policy)),
		slog.Int("users", len(state.order)),
		slog.Int("active", len(state.active)),
	)

	return s, nil
}

// FindActive はユーザーの稼働中セッションを返す。存在しない場合はnilを返す。
func (s *FileSessionStore) FindActive(ctx context.Context, userID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findActive(userID), nil
}

// Start は稼働中セッションを作成し、スナップショットを書き出す。
func (s *FileSessionStore) Start(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	var session *model.Session
	err := s.mutate("start", func(st *ledgerState) {
		session = st.start(userID, at)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Finish は稼働中セッションを終了して累計に加算し、スナップショットを書き出す。
func (s *FileSessionStore) Finish(ctx context.Context, userID string, at time.Time) (*model.Session, error) {
	s.mu.RLock()
	_, ok := s.state.active[userID]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}
	if !ok {
		return nil, nil
	}

	var session *model.Session
	err := s.mutate("finish", func(st *ledgerState) {
		session = st.finish(userID, at)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SumByUser はユーザーの累計を返す。
func (s *FileSessionStore) SumByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.sumByUser(userID, now), nil
}

// SumAll は全ユーザーの累計を初出順で返す。
func (s *FileSessionStore) SumAll(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.sumAll(now), nil
}

// ListActive は稼働中セッションを初出順で返す。
func (s *FileSessionStore) ListActive(ctx context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listActive(), nil
}

// Reset は全状態を破棄し、空のスナップショットを書き出す。
func (s *FileSessionStore) Reset(ctx context.Context) error {
	return s.mutate("reset", func(st *ledgerState) {
		*st = *newLedgerState()
	})
}

// Close は最終スナップショットを書き出してロックを解放する。
// 以降の書き込みはErrStoreClosedを返す。2回目以降の呼び出しは何もしない。
func (s *FileSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.flushLocked()
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock data directory: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("final flush failed: %w", flushErr)
	}
	return nil
}

// PingContext はデータディレクトリにアクセスできるかを確認する。
func (s *FileSessionStore) PingContext(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("data directory is not accessible: %w", err)
	}
	return nil
}

// mutate はfnで状態を変更した後にスナップショットを書き出す。
// strictでは書き込み失敗時に変更前の状態へ戻してエラーを返す。
// best_effortでは失敗をログに記録して変更を維持する。
func (s *FileSessionStore) mutate(op string, fn func(st *ledgerState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}

	var backup *ledgerState
	if s.policy == PersistStrict {
		backup = s.state.clone()
	}

	fn(s.state)

	err := s.flushLocked()
	if err == nil {
		return nil
	}

	if s.policy == PersistStrict {
		s.state = backup
		return fmt.Errorf("failed to write snapshot (%s): %w", op, err)
	}

	s.logger.Error("snapshot write failed, keeping in-memory state",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if s.onErr != nil {
		s.onErr(op, err)
	}
	return nil
}

// flushLocked は2つのスナップショットファイルを書き出す。呼び出し側でmuを保持すること。
func (s *FileSessionStore) flushLocked() error {
	activeKeys := make([]string, 0, len(s.state.active))
	for _, userID := range s.state.order {
		if _, ok := s.state.active[userID]; ok {
			activeKeys = append(activeKeys, userID)
		}
	}

	activeData, err := encodeOrderedObject(activeKeys, func(k string) any {
		return activeEntry{Start: s.state.active[k].UnixMilli()}
	})
	if err != nil {
		return err
	}
	totalsData, err := encodeOrderedObject(s.state.order, func(k string) any {
		return s.state.totals[k]
	})
	if err != nil {
		return err
	}

	if err := s.writeFile(filepath.Join(s.dir, ActiveSessionsFile), bytes.NewReader(activeData)); err != nil {
		return fmt.Errorf("failed to write %s: %w", ActiveSessionsFile, err)
	}
	if err := s.writeFile(filepath.Join(s.dir, TotalsFile), bytes.NewReader(totalsData)); err != nil {
		return fmt.Errorf("failed to write %s: %w", TotalsFile, err)
	}
	return nil
}

// loadSnapshot はdirの2ファイルから状態を復元する。
// 初出順はtotals.jsonのキー順、続いてactive_sessions.jsonにのみ存在するキーの順とする。
func loadSnapshot(dir string) (*ledgerState, error) {
	state := newLedgerState()

	totalsData, err := readIfExists(filepath.Join(dir, TotalsFile))
	if err != nil {
		return nil, err
	}
	err = decodeOrderedObject(totalsData, func(key string, dec *json.Decoder) error {
		var ms int64
		if err := dec.Decode(&ms); err != nil {
			return fmt.Errorf("total for %q: %w", key, err)
		}
		state.track(key)
		state.totals[key] = ms
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", TotalsFile, err)
	}

	activeData, err := readIfExists(filepath.Join(dir, ActiveSessionsFile))
	if err != nil {
		return nil, err
	}
	err = decodeOrderedObject(activeData, func(key string, dec *json.Decoder) error {
		var entry activeEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("active session for %q: %w", key, err)
		}
		state.track(key)
		state.active[key] = time.UnixMilli(entry.Start)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ActiveSessionsFile, err)
	}

	return state, nil
}

func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// encodeOrderedObject はkeysの順序を保ったJSONオブジェクトを生成する。
func encodeOrderedObject(keys []string, value func(k string) any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(",")
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key %q: %w", k, err)
		}
		vb, err := json.Marshal(value(k))
		if err != nil {
			return nil, fmt.Errorf("failed to encode value for %q: %w", k, err)
		}
		buf.WriteString("\n  ")
		buf.Write(kb)
		buf.WriteString(": ")
		buf.Write(vb)
	}
	if len(keys) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodeOrderedObject はJSONオブジェクトのキーを出現順にfnへ渡す。
// 空データは空オブジェクトとして扱う。
func decodeOrderedObject(data []byte, fn func(key string, dec *json.Decoder) error) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(key, dec); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err != nil {
			return err
		}
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*FileSessionStore)(nil)
