// Package telegram connects the chat core to the Telegram Bot API. It
// receives updates, routes commands and messages to the hub and implements
// the hub's transport.
package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/localization"
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot commands.
const (
	cmdStart   = "start"
	cmdRules   = "rules"
	cmdSearch  = "search"
	cmdStop    = "stop"
	cmdSOS     = "sos"
	cmdSOSNext = "sos_next"
)

// BotService receives Telegram updates and routes them to the hub.
type BotService struct {
	api       BotAPI
	hub       *chathub.Hub
	notifier  chathub.Notifier
	reports   *ReportHandler
	localizer *localization.Localizer
	lang      string
	logger    *zap.Logger
}

// NewBotService creates the update router.
func NewBotService(api BotAPI, hub *chathub.Hub, n chathub.Notifier, reports *ReportHandler, localizer *localization.Localizer, lang string, logger *zap.Logger) *BotService {
	return &BotService{
		api:       api,
		hub:       hub,
		notifier:  n,
		reports:   reports,
		localizer: localizer,
		lang:      lang,
		logger:    logger,
	}
}

// RegisterCommands publishes the command menu. The operator additionally
// sees /sos_next.
func (s *BotService) RegisterCommands() error {
	public := []tgbotapi.BotCommand{
		{Command: cmdStart, Description: s.text("command_start")},
		{Command: cmdSearch, Description: s.text("command_search")},
		{Command: cmdStop, Description: s.text("command_stop")},
		{Command: cmdSOS, Description: s.text("command_sos")},
		{Command: cmdRules, Description: s.text("command_rules")},
	}
	if _, err := s.api.Request(tgbotapi.NewSetMyCommands(public...)); err != nil {
		return err
	}

	operator := append(public[:len(public):len(public)],
		tgbotapi.BotCommand{Command: cmdSOSNext, Description: s.text("command_sos_next")})
	scope := tgbotapi.NewBotCommandScopeChat(s.hub.OperatorID)
	_, err := s.api.Request(tgbotapi.NewSetMyCommandsWithScope(scope, operator...))
	return err
}

// Run handles updates until ctx is cancelled or the channel is closed.
func (s *BotService) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	s.logger.Info("bot update loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("bot update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches a single update.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if s.reports.Handles(update.CallbackQuery.Data) {
			s.reports.HandleCallback(ctx, update.CallbackQuery)
		}
	case update.EditedMessage != nil:
		s.handleEdit(ctx, update.EditedMessage)
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	adm, err := s.hub.Admit(ctx, profileOf(msg.From), msg.Text)
	if err != nil {
		s.logger.Error("admit failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		s.notify(ctx, msg.From.ID, "error_generic")
		return
	}
	if !adm.Allowed {
		return
	}
	userID := msg.From.ID

	if s.reports.HandleScreenshot(msg) {
		return
	}

	if msg.IsCommand() {
		if s.handleCommand(ctx, userID, msg.Command(), adm) {
			return
		}
	}

	outcome, err := s.hub.RelayInbound(ctx, userID, inboundMessage(msg))
	if err != nil {
		s.logger.Error("relay failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Debug("message relayed", zap.Int64("user_id", userID), zap.Stringer("outcome", outcome))
}

// handleCommand runs a known command. Unknown commands are relayed as text.
func (s *BotService) handleCommand(ctx context.Context, userID int64, command string, adm chathub.Admission) bool {
	var err error
	switch command {
	case cmdStart:
		name := adm.User.DisplayName()
		if adm.IsNew {
			s.notify(ctx, userID, "welcome_new", name)
		} else {
			s.notify(ctx, userID, "welcome_back", name)
		}
		if s.hub.IsOperator(userID) {
			s.notify(ctx, userID, "welcome_operator")
		}
	case cmdRules:
		s.notify(ctx, userID, "rules")
	case cmdSearch:
		_, err = s.hub.StartSearch(ctx, userID)
	case cmdStop:
		_, err = s.hub.Stop(ctx, userID)
	case cmdSOS:
		_, err = s.hub.RequestEscalation(ctx, userID)
	case cmdSOSNext:
		_, err = s.hub.OperatorDequeueEscalation(ctx, userID)
		if errors.Is(err, chathub.ErrNotOperator) {
			s.notify(ctx, userID, "not_operator")
			return true
		}
	default:
		return false
	}

	if err != nil {
		s.logger.Error("command failed", zap.String("command", command), zap.Int64("user_id", userID), zap.Error(err))
		s.notify(ctx, userID, "error_generic")
	}
	return true
}

func (s *BotService) handleEdit(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	adm, err := s.hub.Admit(ctx, profileOf(msg.From), "")
	if err != nil || !adm.Allowed {
		return
	}
	if err := s.hub.RelayEdit(ctx, msg.From.ID, inboundMessage(msg)); err != nil {
		s.logger.Error("edit relay failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
	}
}

func (s *BotService) notify(ctx context.Context, to int64, key string, args ...any) {
	s.notifier.Notify(ctx, to, chathub.Notice{Key: key, Args: args})
}

func (s *BotService) text(key string) string {
	return s.localizer.GetString(s.lang, key)
}
