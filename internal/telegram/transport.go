package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxMediaGroup is the largest album the Bot API accepts.
const maxMediaGroup = 10

// BotAPI is the part of *tgbotapi.BotAPI the service calls.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

var _ BotAPI = (*tgbotapi.BotAPI)(nil)

// Transport delivers relayed messages and notices through the Bot API.
type Transport struct {
	api       BotAPI
	localizer *localization.Localizer
	lang      string
	logger    *zap.Logger
}

var _ chathub.Transport = (*Transport)(nil)

// NewTransport creates a transport rendering notices in lang.
func NewTransport(api BotAPI, localizer *localization.Localizer, lang string, logger *zap.Logger) *Transport {
	return &Transport{api: api, localizer: localizer, lang: lang, logger: logger}
}

// Send delivers a relayed message, threading it under msg.ReplyTo.
func (t *Transport) Send(_ context.Context, to int64, msg models.OutboundMessage) chathub.Delivery {
	sent, err := t.api.Send(outboundChattable(to, msg))
	if err != nil {
		return classify(err)
	}
	return chathub.Delivery{MessageID: int64(sent.MessageID), Status: chathub.Delivered}
}

// EditText replaces the text of a relayed message.
func (t *Transport) EditText(_ context.Context, to, messageID int64, text string, entities []models.Entity) chathub.Delivery {
	edit := tgbotapi.NewEditMessageText(to, int(messageID), text)
	edit.Entities = toEntities(entities)
	return t.request(edit, messageID)
}

// EditCaption replaces the caption of a relayed media message.
func (t *Transport) EditCaption(_ context.Context, to, messageID int64, caption string, entities []models.Entity) chathub.Delivery {
	edit := tgbotapi.NewEditMessageCaption(to, int(messageID), caption)
	edit.CaptionEntities = toEntities(entities)
	return t.request(edit, messageID)
}

// Notify renders a notice in the service language and sends it.
func (t *Transport) Notify(_ context.Context, to int64, n chathub.Notice) chathub.Delivery {
	msg := tgbotapi.NewMessage(to, t.localizer.Format(t.lang, n.Key, n.Args...))
	if n.ReportTarget != 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				t.localizer.GetString(t.lang, "report_button"),
				callbackReport+strconv.FormatInt(n.ReportTarget, 10),
			),
		))
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return classify(err)
	}
	return chathub.Delivery{MessageID: int64(sent.MessageID), Status: chathub.Delivered}
}

// ForwardReport sends the report header and the screenshots to the operator.
func (t *Transport) ForwardReport(_ context.Context, operatorID int64, reporter, target *models.User, screenshots []string) error {
	header := t.localizer.Format(t.lang, "report_operator_header",
		reporter.DisplayName(), reporter.ID, target.DisplayName(), target.ID)
	if _, err := t.api.Send(tgbotapi.NewMessage(operatorID, header)); err != nil {
		return fmt.Errorf("send report header: %w", err)
	}

	for start := 0; start < len(screenshots); start += maxMediaGroup {
		end := start + maxMediaGroup
		if end > len(screenshots) {
			end = len(screenshots)
		}
		batch := screenshots[start:end]

		// An album needs at least two items.
		if len(batch) == 1 {
			if _, err := t.api.Send(tgbotapi.NewPhoto(operatorID, tgbotapi.FileID(batch[0]))); err != nil {
				return fmt.Errorf("send report screenshot: %w", err)
			}
			continue
		}
		media := make([]interface{}, 0, len(batch))
		for _, id := range batch {
			media = append(media, tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(id)))
		}
		if _, err := t.api.SendMediaGroup(tgbotapi.NewMediaGroup(operatorID, media)); err != nil {
			return fmt.Errorf("send report screenshots: %w", err)
		}
	}
	return nil
}

func (t *Transport) request(c tgbotapi.Chattable, messageID int64) chathub.Delivery {
	if _, err := t.api.Request(c); err != nil {
		return classify(err)
	}
	return chathub.Delivery{MessageID: messageID, Status: chathub.Delivered}
}

// classify maps a Bot API failure onto a delivery status.
func classify(err error) chathub.Delivery {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden:
			return chathub.Delivery{Status: chathub.Unreachable, Err: err}
		case strings.Contains(apiErr.Message, "message is not modified"):
			return chathub.Delivery{Status: chathub.Transient, Err: fmt.Errorf("%w: %s", chathub.ErrNotModified, apiErr.Message)}
		}
	}
	return chathub.Delivery{Status: chathub.Transient, Err: err}
}

// outboundChattable builds the Bot API request for one relayed message.
func outboundChattable(to int64, msg models.OutboundMessage) tgbotapi.Chattable {
	file := tgbotapi.FileID(msg.FileID)
	entities := toEntities(msg.Entities)
	replyTo := int(msg.ReplyTo)

	switch msg.Kind {
	case models.KindText:
		m := tgbotapi.NewMessage(to, msg.Text)
		m.Entities = entities
		m.ReplyToMessageID = replyTo
		return m
	case models.KindPhoto:
		m := tgbotapi.NewPhoto(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindVideo:
		m := tgbotapi.NewVideo(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindVoice:
		m := tgbotapi.NewVoice(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindAudio:
		m := tgbotapi.NewAudio(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindDocument:
		m := tgbotapi.NewDocument(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindAnimation:
		m := tgbotapi.NewAnimation(to, file)
		m.Caption, m.CaptionEntities, m.ReplyToMessageID = msg.Caption, entities, replyTo
		return m
	case models.KindSticker:
		m := tgbotapi.NewSticker(to, file)
		m.ReplyToMessageID = replyTo
		return m
	case models.KindVideoNote:
		m := tgbotapi.NewVideoNote(to, 0, file)
		m.ReplyToMessageID = replyTo
		return m
	default:
		m := tgbotapi.NewCopyMessage(to, msg.CopyFrom.ChatID, int(msg.CopyFrom.MessageID))
		m.ReplyToMessageID = replyTo
		return m
	}
}
