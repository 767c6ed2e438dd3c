package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/quartz"

	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/render"
)

// LedgerReader は集計ハンドラーが必要とする台帳の参照系インターフェース。
type LedgerReader interface {
	// AllTotals は全ユーザーの累計を降順で返す。
	AllTotals(ctx context.Context, now time.Time) ([]model.UserTotal, error)
	// ListActive は稼働中のユーザーIDを返す。
	ListActive(ctx context.Context) ([]string, error)
}

// TotalsHandler は累計と稼働中ユーザーを参照する読み取り専用のHTTPハンドラー。
type TotalsHandler struct {
	ledger LedgerReader
	clock  quartz.Clock
}

// NewTotalsHandler はTotalsHandlerを生成する。
func NewTotalsHandler(ledger LedgerReader, clock quartz.Clock) *TotalsHandler {
	return &TotalsHandler{
		ledger: ledger,
		clock:  clock,
	}
}

// totalResponse はユーザーごとの累計のAPIレスポンス。
type totalResponse struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Formatted string `json:"formatted"`
}

// totalsResponse は累計一覧のAPIレスポンス。
type totalsResponse struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Totals      []totalResponse `json:"totals"`
}

// activeResponse は稼働中ユーザー一覧のAPIレスポンス。
type activeResponse struct {
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// ListTotals は全ユーザーの累計を順位付きで返す。
// GET /api/totals
func (h *TotalsHandler) ListTotals(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	now := h.clock.Now()
	totals, err := h.ledger.AllTotals(r.Context(), now)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := totalsResponse{
		GeneratedAt: now.UTC(),
		Totals:      make([]totalResponse, 0, len(totals)),
	}
	for i, t := range totals {
		resp.Totals = append(resp.Totals, totalResponse{
			Rank:      i + 1,
			UserID:    t.UserID,
			ElapsedMs: t.ElapsedMs,
			Formatted: render.FormatHM(t.ElapsedMs),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListActive は現在出勤中のユーザーIDを返す。
// GET /api/active
func (h *TotalsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	userIDs, err := h.ledger.ListActive(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if userIDs == nil {
		userIDs = []string{}
	}

	writeJSON(w, http.StatusOK, activeResponse{UserIDs: userIDs, Count: len(userIDs)})
}
