package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/ratelimit"
	"github.com/hitoshi/timeclock/internal/render"
)

// Ledger はDispatcherが利用する台帳操作のインターフェース。
type Ledger interface {
	ClockIn(ctx context.Context, userID string, now time.Time) (*model.Session, error)
	ClockOut(ctx context.Context, userID string, now time.Time) (int64, error)
	CurrentElapsed(ctx context.Context, userID string, now time.Time) (int64, error)
	TotalFor(ctx context.Context, userID string, now time.Time) (int64, error)
	AllTotals(ctx context.Context, now time.Time) ([]model.UserTotal, error)
	ListActive(ctx context.Context) ([]string, error)
	ResetAll(ctx context.Context) error
}

// ButtonStyle はボタンの見た目を表す。
type ButtonStyle int

const (
	StylePrimary ButtonStyle = iota
	StyleSuccess
	StyleDanger
)

// Button は応答に添付するボタン。
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// Request はチャット上の1回の操作を表す。
type Request struct {
	Action  Action
	UserID  string
	IsAdmin bool
	Token   string // リセット確認トークン
}

// Reply は操作に対する応答。Ephemeralの場合は操作したユーザーにのみ表示される。
type Reply struct {
	Content   string
	Ephemeral bool
	Buttons   []Button
}

// DispatcherConfig はDispatcherの設定を保持する。
type DispatcherConfig struct {
	Clock    quartz.Clock       // nilの場合は実時計
	Limiter  *ratelimit.Limiter // nilの場合はレート制限しない
	ResetTTL time.Duration      // リセット確認トークンの有効期間
	Metrics  metrics.MetricsCollector
	Logger   *slog.Logger
}

// Dispatcher は操作を台帳に振り分け、表示用の応答を組み立てる。
type Dispatcher struct {
	ledger  Ledger
	clock   quartz.Clock
	limiter *ratelimit.Limiter
	resets  *resetTokens
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(ledger Ledger, cfg DispatcherConfig) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	ttl := cfg.ResetTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		ledger:  ledger,
		clock:   clock,
		limiter: cfg.Limiter,
		resets:  newResetTokens(ttl),
		metrics: collector,
		logger:  logger,
	}
}

// PanelButtons は操作パネルに並べるボタンを返す。
func PanelButtons() []Button {
	return []Button{
		{CustomID: ButtonClockIn, Label: "Clock In", Style: StyleSuccess},
		{CustomID: ButtonClockOut, Label: "Clock Out", Style: StyleDanger},
		{CustomID: ButtonCheckTime, Label: "Check Time", Style: StylePrimary},
	}
}

// Dispatch は操作を実行し応答を返す。エラーは応答メッセージに変換され、呼び出し側には返らない。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Reply {
	d.metrics.RecordInteraction(req.Action.String())

	if req.Action == ActionUnknown {
		return ephemeral(render.GenericError())
	}

	if d.limiter != nil && !d.limiter.Allow(req.UserID) {
		d.metrics.RecordRejected(model.ErrCodeRateLimited)
		d.logger.Warn("interaction rate limited",
			slog.String("user_id", req.UserID),
			slog.String("action", req.Action.String()),
		)
		return ephemeral(render.RateLimited())
	}

	if req.Action.requiresAdmin() && !req.IsAdmin {
		return ephemeral(render.ResetForbidden())
	}

	now := d.clock.Now()

	switch req.Action {
	case ActionClockIn:
		if _, err := d.ledger.ClockIn(ctx, req.UserID, now); err != nil {
			return d.errorReply(req, err)
		}
		return ephemeral(render.ClockedIn())

	case ActionClockOut:
		elapsed, err := d.ledger.ClockOut(ctx, req.UserID, now)
		if err != nil {
			return d.errorReply(req, err)
		}
		return ephemeral(render.ClockedOut(elapsed))

	case ActionCheckTime:
		elapsed, err := d.ledger.CurrentElapsed(ctx, req.UserID, now)
		if err != nil {
			if model.HasCode(err, model.ErrCodeNoActiveSession) {
				return ephemeral(render.NotClockedInInfo())
			}
			return d.errorReply(req, err)
		}
		return ephemeral(render.CurrentTime(elapsed))

	case ActionMyTotal:
		total, err := d.ledger.TotalFor(ctx, req.UserID, now)
		if err != nil {
			return d.errorReply(req, err)
		}
		return public(render.PersonalTotal(total))

	case ActionAllTotals:
		totals, err := d.ledger.AllTotals(ctx, now)
		if err != nil {
			return d.errorReply(req, err)
		}
		return public(render.Leaderboard(totals))

	case ActionListActive:
		userIDs, err := d.ledger.ListActive(ctx)
		if err != nil {
			return d.errorReply(req, err)
		}
		return public(render.ActiveUsers(userIDs))

	case ActionResetRequest:
		token := d.resets.issue(req.UserID, now)
		reply := ephemeral(render.ResetPrompt())
		reply.Buttons = []Button{
			{CustomID: resetConfirmID(token), Label: "Confirm reset", Style: StyleDanger},
		}
		return reply

	case ActionResetConfirm:
		if !d.resets.consume(req.UserID, req.Token, now) {
			return d.errorReply(req, model.NewResetNotConfirmedError())
		}
		if err := d.ledger.ResetAll(ctx); err != nil {
			return d.errorReply(req, err)
		}
		d.logger.Warn("time clock reset by administrator",
			slog.String("user_id", req.UserID),
		)
		return public(render.ResetDone())
	}

	return ephemeral(render.GenericError())
}

// errorReply はエラーをユーザー向けの応答に変換する。
// 想定内の拒否はそのまま伝え、それ以外は詳細を伏せてログに残す。
func (d *Dispatcher) errorReply(req Request, err error) Reply {
	switch model.CodeOf(err) {
	case model.ErrCodeAlreadyActive:
		return ephemeral(render.AlreadyClockedIn())
	case model.ErrCodeNoActiveSession:
		return ephemeral(render.NotClockedIn())
	case model.ErrCodeInvalidInterval:
		return ephemeral(render.InvalidInterval())
	case model.ErrCodeResetNotConfirmed:
		d.metrics.RecordRejected(model.ErrCodeResetNotConfirmed)
		return ephemeral(render.ResetNotConfirmed())
	}

	d.logger.Error("interaction failed",
		slog.String("user_id", req.UserID),
		slog.String("action", req.Action.String()),
		slog.String("error", err.Error()),
	)
	return ephemeral(render.GenericError())
}

func ephemeral(content string) Reply {
	return Reply{Content: content, Ephemeral: true}
}

func public(content string) Reply {
	return Reply{Content: content}
}
