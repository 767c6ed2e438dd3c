// Package ratelimit はキー（ユーザーIDやIPアドレス）ごとのトークンバケット型レート制限を提供する。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"
)

// Config はレート制限の設定を保持する。
type Config struct {
	PerMinute       int           // 1分あたりの許可数。バーストサイズも同じ値
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
	Clock           quartz.Clock  // nilの場合は実時計
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter はキーごとのレート制限を管理する。
type Limiter struct {
	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration
	clock           quartz.Clock

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	cancel context.CancelFunc
	waiter quartz.Waiter
}

// New は新しいLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。使い終わったらStopを呼ぶこと。
func New(cfg Config) *Limiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 1
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		limit:           rate.Limit(float64(perMinute) / 60.0),
		burst:           perMinute,
		cleanupInterval: interval,
		clock:           clock,
		limiters:        make(map[string]*keyLimiter),
		cancel:          cancel,
	}
	l.waiter = clock.TickerFunc(ctx, interval, func() error {
		l.cleanup()
		return nil
	}, "ratelimit", "cleanup")

	return l
}

// Allow はkeyのリクエストを1件許可できるかを返す。
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = kl
	}
	kl.lastAccess = now
	l.mu.Unlock()

	return kl.limiter.AllowN(now, 1)
}

// RetryAfter はトークンが1つ補充されるまでの推定時間を秒単位で切り上げて返す。
func (l *Limiter) RetryAfter() time.Duration {
	sec := (60 + l.burst - 1) / l.burst
	return time.Duration(sec) * time.Second
}

// Count は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop はクリーンアップのバックグラウンド処理を停止し、終了を待つ。
func (l *Limiter) Stop() {
	l.cancel()
	_ = l.waiter.Wait()
}

// cleanup は最終アクセス時刻がクリーンアップ間隔の2倍を超えたエントリを削除する。
func (l *Limiter) cleanup() {
	ttl := l.cleanupInterval * 2
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, kl := range l.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
}
