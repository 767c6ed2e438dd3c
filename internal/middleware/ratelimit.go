package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/ratelimit"
)

// NewIPRateLimitMiddleware はクライアントIPごとのレート制限ミドルウェアを返す。
// 実IPを使う場合はchiのRealIPミドルウェアの後に配置する。
func NewIPRateLimitMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !limiter.Allow(ip) {
				logger.Warn("rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("limit_type", "http"),
				)
				writeRateLimitResponse(w, limiter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, limiter *ratelimit.Limiter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
