package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/hitoshi/timeclock/internal/render"
)

// interactionTimeout は1回の操作の処理時間の上限。
// Discordは3秒以内の初回応答を要求する。
const interactionTimeout = 3 * time.Second

// discordClient はDiscordAdapterが使うDiscord REST APIの部分集合。
type discordClient interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// DiscordConfig はDiscord接続の設定を保持する。
type DiscordConfig struct {
	Token     string
	ClientID  string
	ChannelID string
	GuildID   string // 空の場合はグローバルにコマンドを登録する
}

// DiscordAdapter はDiscordのイベントをDispatcherに渡し、応答を返送する。
type DiscordAdapter struct {
	cfg        DiscordConfig
	dispatcher *Dispatcher
	logger     *slog.Logger

	session *discordgo.Session
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDiscordAdapter は新しいDiscordAdapterを生成する。接続はOpenで行う。
func NewDiscordAdapter(cfg DiscordConfig, dispatcher *Dispatcher, logger *slog.Logger) (*DiscordAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	ctx, cancel := context.WithCancel(context.Background())
	a := &DiscordAdapter{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		session:    session,
		ctx:        ctx,
		cancel:     cancel,
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.onReady(s, r)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		a.onInteraction(s, i)
	})

	return a, nil
}

// Open はゲートウェイに接続する。
func (a *DiscordAdapter) Open() error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

// Close は処理中の操作をキャンセルし、ゲートウェイから切断する。
func (a *DiscordAdapter) Close() error {
	a.cancel()
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// Commands は登録するスラッシュコマンドの定義を返す。
func Commands() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandMyTotal,
			Description: "Show your total time, including the running session.",
		},
		{
			Name:        CommandAllTotals,
			Description: "Show the total time of every user.",
		},
		{
			Name:        CommandListActive,
			Description: "Show who is clocked in right now.",
		},
		{
			Name:                     CommandReset,
			Description:              "Delete all time-clock data (administrators only).",
			DefaultMemberPermissions: &adminOnly,
		},
	}
}

// onReady はスラッシュコマンドを登録し、操作パネルを投稿する。
// どちらかが失敗してもBotは動作を続ける。
func (a *DiscordAdapter) onReady(s discordClient, r *discordgo.Ready) {
	if r != nil && r.User != nil {
		a.logger.Info("discord session ready",
			slog.String("bot_user", r.User.Username),
		)
	}

	if _, err := s.ApplicationCommandBulkOverwrite(a.cfg.ClientID, a.cfg.GuildID, Commands()); err != nil {
		a.logger.Error("failed to register slash commands",
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.Info("slash commands registered",
			slog.String("guild_id", a.cfg.GuildID),
		)
	}

	if _, err := s.ChannelMessageSendComplex(a.cfg.ChannelID, &discordgo.MessageSend{
		Content:    render.PanelMessage(),
		Components: toComponents(PanelButtons()),
	}); err != nil {
		a.logger.Error("failed to post button panel",
			slog.String("channel_id", a.cfg.ChannelID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Info("button panel posted",
		slog.String("channel_id", a.cfg.ChannelID),
	)
}

// onInteraction はボタン押下とスラッシュコマンドを処理する。
// パニックは汎用エラー応答に変換する。
func (a *DiscordAdapter) onInteraction(s discordClient, i *discordgo.InteractionCreate) {
	requestID := uuid.NewString()
	logger := a.logger.With(slog.String("request_id", requestID))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while handling interaction",
				slog.String("panic", fmt.Sprintf("%v", rec)),
			)
			a.respond(s, i.Interaction, ephemeral(render.GenericError()), logger)
		}
	}()

	req, ok := toRequest(i.Interaction)
	if !ok {
		logger.Debug("ignoring unsupported interaction",
			slog.Int("type", int(i.Type)),
		)
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, interactionTimeout)
	defer cancel()

	start := time.Now()
	reply := a.dispatcher.Dispatch(ctx, req)
	logger.Debug("interaction handled",
		slog.String("user_id", req.UserID),
		slog.String("action", req.Action.String()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	a.respond(s, i.Interaction, reply, logger)
}

func (a *DiscordAdapter) respond(s discordClient, interaction *discordgo.Interaction, reply Reply, logger *slog.Logger) {
	data := &discordgo.InteractionResponseData{
		Content: reply.Content,
	}
	if reply.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if len(reply.Buttons) > 0 {
		data.Components = toComponents(reply.Buttons)
	}

	err := s.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		logger.Error("failed to respond to interaction",
			slog.String("error", err.Error()),
		)
	}
}

// toRequest はDiscordのインタラクションをRequestに変換する。
// 対応していない種類の場合はfalseを返す。
func toRequest(i *discordgo.Interaction) (Request, bool) {
	userID, isAdmin := actor(i)
	if userID == "" {
		return Request{}, false
	}

	var req Request
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		action, token := ParseButton(i.MessageComponentData().CustomID)
		req = Request{Action: action, Token: token}
	case discordgo.InteractionApplicationCommand:
		req = Request{Action: ParseCommand(i.ApplicationCommandData().Name)}
	default:
		return Request{}, false
	}

	req.UserID = userID
	req.IsAdmin = isAdmin
	return req, true
}

// actor は操作したユーザーのIDと管理者権限の有無を返す。
// DMでの操作は管理者として扱わない。
func actor(i *discordgo.Interaction) (string, bool) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.Permissions&discordgo.PermissionAdministrator != 0
	}
	if i.User != nil {
		return i.User.ID, false
	}
	return "", false
}

func toComponents(buttons []Button) []discordgo.MessageComponent {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.CustomID,
			Label:    b.Label,
			Style:    buttonStyle(b.Style),
		})
	}
	return []discordgo.MessageComponent{row}
}

func buttonStyle(s ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case StyleSuccess:
		return discordgo.SuccessButton
	case StyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}
