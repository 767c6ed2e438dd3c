package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
)

const (
	// initialRetryDelay は接続リトライの初回遅延。
	initialRetryDelay = time.Second
	// maxRetryDelay は接続リトライの最大遅延。
	maxRetryDelay = 30 * time.Second
)

// RetryDelay は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1秒、2倍ずつ増加、最大30秒。
func RetryDelay(failures int) time.Duration {
	delay := initialRetryDelay
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// Retry はfnが成功するまで最大attempts回実行する。
// 起動直後にDBコンテナがまだ接続を受け付けていない場合に使う。
func Retry(ctx context.Context, clock quartz.Clock, attempts int, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := RetryDelay(i)
		logger.Warn("database is not ready, retrying",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := clock.NewTimer(delay, "database", "retry")
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up waiting for database: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("database is not reachable after %d attempts: %w", attempts, err)
}
