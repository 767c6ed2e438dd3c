package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
)

// healthTimeout はストアへの疎通確認のタイムアウト。
const healthTimeout = 3 * time.Second

// HealthHandler はキープアライブとヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker repository.HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合は常に正常を返す。
func NewHealthHandler(checker repository.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// Alive はホスティング先のキープアライブ監視向けに固定文字列を返す。
// GET /
func (h *HealthHandler) Alive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("timeclock is running"))
}

// Health はストアへの疎通を確認し、結果をJSONで返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := h.checker.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			middleware.WriteError(w, model.NewPersistenceError("ping", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
