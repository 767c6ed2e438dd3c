package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLimiter_AllowsBurstThenBlocks(t *testing.T) {
	clock := quartz.NewMock(t)
	l := New(Config{PerMinute: 3, CleanupInterval: time.Hour, Clock: clock})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("u1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("u1") {
		t.Error("4th request should be blocked")
	}
}

// TestLimiter_RefillsOverTime は時間経過でトークンが補充されることを検証する。
func TestLimiter_RefillsOverTime(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	l := New(Config{PerMinute: 2, CleanupInterval: time.Hour, Clock: clock})
	defer l.Stop()

	l.Allow("u1")
	l.Allow("u1")
	if l.Allow("u1") {
		t.Fatal("3rd request should be blocked")
	}

	// 2/分 = 30秒で1トークン。境界の丸めを避けて31秒進める
	clock.Advance(31 * time.Second).MustWait(ctx)
	if !l.Allow("u1") {
		t.Error("request after refill should be allowed")
	}
	if l.Allow("u1") {
		t.Error("only one token should have been refilled")
	}
}

// TestLimiter_IsolatesKeys はキーごとに独立して制限されることを検証する。
func TestLimiter_IsolatesKeys(t *testing.T) {
	clock := quartz.NewMock(t)
	l := New(Config{PerMinute: 1, CleanupInterval: time.Hour, Clock: clock})
	defer l.Stop()

	if !l.Allow("u1") {
		t.Fatal("u1 first request should be allowed")
	}
	if l.Allow("u1") {
		t.Error("u1 second request should be blocked")
	}
	if !l.Allow("u2") {
		t.Error("u2 should have its own bucket")
	}
}

// TestLimiter_CleanupRemovesExpiredEntries はクリーンアップ間隔の2倍を超えたエントリが削除されることを検証する。
func TestLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	l := New(Config{PerMinute: 10, CleanupInterval: time.Minute, Clock: clock})
	defer l.Stop()

	l.Allow("old")
	clock.Advance(time.Minute).MustWait(ctx)
	l.Allow("fresh")

	if got := l.Count(); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}

	clock.Advance(time.Minute).MustWait(ctx)
	if got := l.Count(); got != 2 {
		t.Errorf("Count after 2m = %d, want 2", got)
	}

	// oldは3分、freshは2分経過
	clock.Advance(time.Minute).MustWait(ctx)
	if got := l.Count(); got != 1 {
		t.Errorf("Count after 3m = %d, want 1", got)
	}
}

func TestLimiter_RetryAfter(t *testing.T) {
	tests := []struct {
		perMinute int
		want      time.Duration
	}{
		{60, time.Second},
		{30, 2 * time.Second},
		{7, 9 * time.Second},
		{120, time.Second},
	}

	for _, tt := range tests {
		l := New(Config{PerMinute: tt.perMinute, Clock: quartz.NewMock(t)})
		if got := l.RetryAfter(); got != tt.want {
			t.Errorf("RetryAfter(perMinute=%d) = %v, want %v", tt.perMinute, got, tt.want)
		}
		l.Stop()
	}
}
