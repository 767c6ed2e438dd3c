package handler

import (
	"log/slog"
	"net/http"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/ratelimit"
	"github.com/hitoshi/timeclock/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *ratelimit.Limiter // nilの場合はレート制限なし

	// ヘルスチェック
	HealthChecker repository.HealthChecker

	// 集計の参照
	Ledger LedgerReader
	Clock  quartz.Clock

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter はキープアライブ用HTTPサーバーのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP → Logging → SecurityHeaders → IPRateLimit
//
// /metricsはスクレイプ間隔で叩かれるためレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	healthHandler := NewHealthHandler(deps.HealthChecker)
	totalsHandler := NewTotalsHandler(deps.Ledger, clock)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(middleware.NewIPRateLimitMiddleware(deps.RateLimiter, logger))
		}

		r.Get("/", healthHandler.Alive)
		r.Get("/health", healthHandler.Health)

		r.Route("/api", func(r chi.Router) {
			r.Get("/totals", totalsHandler.ListTotals)
			r.Get("/active", totalsHandler.ListActive)
		})
	})

	return r
}
