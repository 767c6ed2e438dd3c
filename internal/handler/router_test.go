package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/ratelimit"
)

// --- モック定義 ---

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type mockLedger struct {
	allTotalsFn  func(ctx context.Context, now time.Time) ([]model.UserTotal, error)
	listActiveFn func(ctx context.Context) ([]string, error)
}

func (m *mockLedger) AllTotals(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
	if m.allTotalsFn != nil {
		return m.allTotalsFn(ctx, now)
	}
	return nil, nil
}

func (m *mockLedger) ListActive(ctx context.Context) ([]string, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, nil
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewMock(t)
	}
	return NewRouter(deps)
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- テストケース ---

// TestRouter_Root_ReturnsAliveText はキープアライブ用のルートが固定文字列を返すことを検証する。
func TestRouter_Root_ReturnsAliveText(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	w := serve(router, http.MethodGet, "/")

	if w.Code != http.StatusOK {
		t.Errorf("GET / status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "timeclock is running" {
		t.Errorf("GET / body = %q", body)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security headers missing, X-Content-Type-Options = %q", got)
	}
}

func TestRouter_Health_OK(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{HealthChecker: &mockHealthChecker{}})

	w := serve(router, http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

// TestRouter_Health_StoreDown_Returns503 はストアに到達できない場合に503を返すことを検証する。
func TestRouter_Health_StoreDown_Returns503(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("ping context should carry a deadline")
			}
			return errors.New("connection refused")
		},
	}
	router := newTestRouter(t, &RouterDeps{HealthChecker: checker})

	w := serve(router, http.MethodGet, "/health")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodePersistenceFailure {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodePersistenceFailure)
	}
}

// TestRouter_Totals_ReturnsRankedList は累計が順位と整形済み時間付きで返ることを検証する。
func TestRouter_Totals_ReturnsRankedList(t *testing.T) {
	clock := quartz.NewMock(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(now)

	ledger := &mockLedger{
		allTotalsFn: func(ctx context.Context, got time.Time) ([]model.UserTotal, error) {
			if !got.Equal(now) {
				t.Errorf("now = %v, want %v", got, now)
			}
			return []model.UserTotal{
				{UserID: "111", ElapsedMs: 5_999_999},
				{UserID: "222", ElapsedMs: 60_000},
			}, nil
		},
	}
	router := newTestRouter(t, &RouterDeps{Ledger: ledger, Clock: clock})

	w := serve(router, http.MethodGet, "/api/totals")

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/totals status = %d, want %d", w.Code, http.StatusOK)
	}
	var body totalsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	want := []totalResponse{
		{Rank: 1, UserID: "111", ElapsedMs: 5_999_999, Formatted: "1h 39m"},
		{Rank: 2, UserID: "222", ElapsedMs: 60_000, Formatted: "0h 1m"},
	}
	if diff := cmp.Diff(want, body.Totals); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}
	if !body.GeneratedAt.Equal(now) {
		t.Errorf("generated_at = %v, want %v", body.GeneratedAt, now)
	}
}

func TestRouter_Totals_Empty_ReturnsEmptyArray(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{Ledger: &mockLedger{}})

	w := serve(router, http.MethodGet, "/api/totals")

	if !strings.Contains(w.Body.String(), `"totals":[]`) {
		t.Errorf("body = %s, want empty totals array", w.Body.String())
	}
}

func TestRouter_Totals_LedgerError_Returns503(t *testing.T) {
	ledger := &mockLedger{
		allTotalsFn: func(ctx context.Context, now time.Time) ([]model.UserTotal, error) {
			return nil, model.NewPersistenceError("sum_all", errors.New("timeout"))
		},
	}
	router := newTestRouter(t, &RouterDeps{Ledger: ledger})

	w := serve(router, http.MethodGet, "/api/totals")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_Active_ReturnsUserIDs(t *testing.T) {
	ledger := &mockLedger{
		listActiveFn: func(ctx context.Context) ([]string, error) {
			return []string{"111", "333"}, nil
		},
	}
	router := newTestRouter(t, &RouterDeps{Ledger: ledger})

	w := serve(router, http.MethodGet, "/api/active")

	var body activeResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}
	if diff := cmp.Diff([]string{"111", "333"}, body.UserIDs); diff != "" {
		t.Errorf("user_ids mismatch (-want +got):\n%s", diff)
	}
}

// TestRouter_Metrics_ServedOutsideRateLimit は/metricsがレート制限の対象外であることを検証する。
func TestRouter_Metrics_ServedOutsideRateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg).RecordClockIn()

	limiter := ratelimit.New(ratelimit.Config{PerMinute: 1, CleanupInterval: time.Hour, Clock: quartz.NewMock(t)})
	defer limiter.Stop()

	router := newTestRouter(t, &RouterDeps{Gatherer: reg, RateLimiter: limiter})

	for i := 0; i < 3; i++ {
		w := serve(router, http.MethodGet, "/metrics")
		if w.Code != http.StatusOK {
			t.Fatalf("GET /metrics #%d status = %d, want %d", i, w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "timeclock_clock_in_total 1") {
			t.Errorf("metrics body missing counter")
		}
	}

	if w := serve(router, http.MethodGet, "/"); w.Code != http.StatusOK {
		t.Errorf("first GET / status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := serve(router, http.MethodGet, "/"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second GET / status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestRouter_UnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	if w := serve(router, http.MethodGet, "/api/unknown"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_Root_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	if w := serve(router, http.MethodPost, "/"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
