package telegram

import (
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Callback data of the report flow.
const (
	callbackReport        = "report_"
	callbackConfirmReport = "confirm_report_"
	callbackFinishReport  = "finish_report"
	callbackCancelReport  = "cancel_report"
)

// ReportDrafts is the report service as seen by the bot. It lets the
// handler be tested without storage.
type ReportDrafts interface {
	Start(reporterID, targetID int64) error
	Active(reporterID int64) bool
	AddScreenshot(reporterID int64, fileID string) error
	Finish(ctx context.Context, reporterID int64) (*models.Report, error)
	Cancel(reporterID int64) bool
}

// ReportHandler drives the report dialog: confirm, collect screenshots,
// then finish or cancel. Every step edits the message carrying the buttons.
type ReportHandler struct {
	api       BotAPI
	drafts    ReportDrafts
	localizer *localization.Localizer
	lang      string
	logger    *zap.Logger
}

// NewReportHandler creates a handler replying in lang.
func NewReportHandler(api BotAPI, drafts ReportDrafts, localizer *localization.Localizer, lang string, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{api: api, drafts: drafts, localizer: localizer, lang: lang, logger: logger}
}

// Handles reports whether data belongs to the report flow.
func (h *ReportHandler) Handles(data string) bool {
	return strings.HasPrefix(data, callbackReport) ||
		strings.HasPrefix(data, callbackConfirmReport) ||
		data == callbackFinishReport ||
		data == callbackCancelReport
}

// HandleCallback processes one button press of the report flow.
func (h *ReportHandler) HandleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		h.logger.Warn("answer callback failed", zap.Error(err))
	}
	if q.Message == nil || q.From == nil {
		return
	}
	reporterID := q.From.ID

	switch data := q.Data; {
	case strings.HasPrefix(data, callbackConfirmReport):
		targetID, err := strconv.ParseInt(strings.TrimPrefix(data, callbackConfirmReport), 10, 64)
		if err != nil || h.drafts.Start(reporterID, targetID) != nil {
			h.edit(q.Message, "report_failed", nil)
			return
		}
		h.edit(q.Message, "report_await_screenshots", keyboard(
			button(h.text("report_done_button"), callbackFinishReport),
		))

	case strings.HasPrefix(data, callbackReport):
		targetID := strings.TrimPrefix(data, callbackReport)
		h.edit(q.Message, "report_confirm", keyboard(
			button(h.text("report_confirm_yes"), callbackConfirmReport+targetID),
			button(h.text("report_confirm_no"), callbackCancelReport),
		))

	case data == callbackFinishReport:
		rep, err := h.drafts.Finish(ctx, reporterID)
		if err != nil {
			h.logger.Info("report not sent", zap.Int64("reporter_id", reporterID), zap.Error(err))
			h.edit(q.Message, "report_failed", nil)
			return
		}
		h.logger.Debug("report sent", zap.Uint("report_id", rep.ID))
		h.edit(q.Message, "report_sent", nil)

	case data == callbackCancelReport:
		h.drafts.Cancel(reporterID)
		h.edit(q.Message, "report_cancelled", nil)
	}
}

// HandleScreenshot attaches a photo to an open draft. It returns false when
// the message was not consumed by the report flow.
func (h *ReportHandler) HandleScreenshot(msg *tgbotapi.Message) bool {
	if msg.From == nil || !h.drafts.Active(msg.From.ID) {
		return false
	}
	fileID, ok := largestPhoto(msg)
	if !ok {
		return false
	}
	if err := h.drafts.AddScreenshot(msg.From.ID, fileID); err != nil {
		return false
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, h.text("report_screenshot_ok"))
	reply.ReplyToMessageID = msg.MessageID
	if _, err := h.api.Send(reply); err != nil {
		h.logger.Warn("screenshot ack failed", zap.Error(err))
	}
	return true
}

func (h *ReportHandler) text(key string) string {
	return h.localizer.GetString(h.lang, key)
}

func (h *ReportHandler) edit(msg *tgbotapi.Message, key string, markup *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, h.text(key))
	edit.ReplyMarkup = markup
	if _, err := h.api.Request(edit); err != nil {
		h.logger.Warn("edit report message failed", zap.String("key", key), zap.Error(err))
	}
}

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

// keyboard lays out one button per row.
func keyboard(buttons ...tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(b))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
