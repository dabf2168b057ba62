package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTransport(t *testing.T) (*Transport, *MockBotAPI) {
	t.Helper()
	api := new(MockBotAPI)
	return NewTransport(api, newLocalizer(t), "en", zaptest.NewLogger(t)), api
}

func TestTransport_SendTextThreadsReply(t *testing.T) {
	tr, api := newTransport(t)

	api.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == 2 && c.Text == "прывітанне" && c.ReplyToMessageID == 40 &&
			len(c.Entities) == 1 && c.Entities[0].Type == "bold"
	})).Return(tgbotapi.Message{MessageID: 77}, nil).Once()

	d := tr.Send(context.Background(), 2, models.OutboundMessage{
		Kind:     models.KindText,
		Text:     "прывітанне",
		Entities: []models.Entity{{Type: "bold", Offset: 0, Length: 3}},
		ReplyTo:  40,
	})

	assert.Equal(t, chathub.Delivered, d.Status)
	assert.Equal(t, int64(77), d.MessageID)
	api.AssertExpectations(t)
}

func TestTransport_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status chathub.DeliveryStatus
	}{
		{"blocked", apiError(403, "Forbidden: bot was blocked by the user"), chathub.Unreachable},
		{"bad request", apiError(400, "Bad Request: chat not found"), chathub.Transient},
		{"network", errors.New("connection reset by peer"), chathub.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, api := newTransport(t)
			api.On("Send", mock.Anything).Return(tgbotapi.Message{}, tt.err)

			d := tr.Send(context.Background(), 2, models.OutboundMessage{Kind: models.KindText, Text: "x"})
			assert.Equal(t, tt.status, d.Status)
			assert.ErrorIs(t, d.Err, tt.err)
		})
	}
}

func TestTransport_EditNotModified(t *testing.T) {
	tr, api := newTransport(t)
	api.On("Request", mock.AnythingOfType("tgbotapi.EditMessageTextConfig")).
		Return(nil, apiError(400, "Bad Request: message is not modified: specified new message content is the same"))

	d := tr.EditText(context.Background(), 2, 77, "same", nil)
	assert.Equal(t, chathub.Transient, d.Status)
	assert.ErrorIs(t, d.Err, chathub.ErrNotModified)
}

func TestTransport_EditCaption(t *testing.T) {
	tr, api := newTransport(t)
	api.On("Request", mock.MatchedBy(func(c tgbotapi.EditMessageCaptionConfig) bool {
		return c.ChatID == 2 && c.MessageID == 77 && c.Caption == "новы подпіс"
	})).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	d := tr.EditCaption(context.Background(), 2, 77, "новы подпіс", nil)
	assert.Equal(t, chathub.Delivered, d.Status)
	assert.Equal(t, int64(77), d.MessageID)
}

func TestTransport_NotifyAttachesReportButton(t *testing.T) {
	tr, api := newTransport(t)
	loc := newLocalizer(t)

	var sent tgbotapi.MessageConfig
	api.On("Send", mock.AnythingOfType("tgbotapi.MessageConfig")).
		Run(func(args mock.Arguments) { sent = args.Get(0).(tgbotapi.MessageConfig) }).
		Return(tgbotapi.Message{MessageID: 5}, nil)

	d := tr.Notify(context.Background(), 1, chathub.Notice{Key: chathub.NoticeReportPrompt, ReportTarget: 42})
	require.Equal(t, chathub.Delivered, d.Status)

	assert.Equal(t, loc.GetString("en", "report_prompt"), sent.Text)
	markup, ok := sent.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	btn := markup.InlineKeyboard[0][0]
	assert.Equal(t, loc.GetString("en", "report_button"), btn.Text)
	require.NotNil(t, btn.CallbackData)
	assert.Equal(t, "report_42", *btn.CallbackData)
}

func TestTransport_NotifyFormatsArgs(t *testing.T) {
	tr, api := newTransport(t)
	want := newLocalizer(t).Format("en", chathub.NoticeWarning, 1, 3)

	api.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
		return c.ChatID == 1 && c.Text == want && c.ReplyMarkup == nil
	})).Return(tgbotapi.Message{MessageID: 6}, nil).Once()

	d := tr.Notify(context.Background(), 1, chathub.Notice{Key: chathub.NoticeWarning, Args: []any{1, 3}})
	assert.Equal(t, chathub.Delivered, d.Status)
	assert.Contains(t, want, "1/3")
	api.AssertExpectations(t)
}

func TestOutboundChattable(t *testing.T) {
	caption := []models.Entity{{Type: "italic", Offset: 0, Length: 4}}

	photo, ok := outboundChattable(2, models.OutboundMessage{
		Kind: models.KindPhoto, FileID: "file-1", Caption: "фота", Entities: caption, ReplyTo: 9,
	}).(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.FileID("file-1"), photo.File)
	assert.Equal(t, "фота", photo.Caption)
	assert.Equal(t, 9, photo.ReplyToMessageID)
	require.Len(t, photo.CaptionEntities, 1)

	sticker, ok := outboundChattable(2, models.OutboundMessage{Kind: models.KindSticker, FileID: "st"}).(tgbotapi.StickerConfig)
	require.True(t, ok)
	assert.Equal(t, int64(2), sticker.ChatID)

	copied, ok := outboundChattable(2, models.OutboundMessage{
		Kind:     models.KindOther,
		CopyFrom: models.MessageRef{ChatID: 1, MessageID: 15},
	}).(tgbotapi.CopyMessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(1), copied.FromChatID)
	assert.Equal(t, 15, copied.MessageID)
}

func TestTransport_ForwardReport(t *testing.T) {
	reporter := &models.User{ID: 1, FirstName: "Ales"}
	target := &models.User{ID: 2, FirstName: "Janka"}

	t.Run("single screenshot is sent as a photo", func(t *testing.T) {
		tr, api := newTransport(t)
		api.On("Send", mock.MatchedBy(func(c tgbotapi.MessageConfig) bool {
			return c.ChatID == 1000 && c.Text != ""
		})).Return(tgbotapi.Message{}, nil).Once()
		api.On("Send", mock.MatchedBy(func(c tgbotapi.PhotoConfig) bool {
			return c.ChatID == 1000 && c.File == tgbotapi.FileID("s1")
		})).Return(tgbotapi.Message{}, nil).Once()

		require.NoError(t, tr.ForwardReport(context.Background(), 1000, reporter, target, []string{"s1"}))
		api.AssertExpectations(t)
		api.AssertNotCalled(t, "SendMediaGroup", mock.Anything)
	})

	t.Run("albums are split at ten", func(t *testing.T) {
		tr, api := newTransport(t)
		shots := make([]string, 11)
		for i := range shots {
			shots[i] = "s"
		}
		api.On("Send", mock.AnythingOfType("tgbotapi.MessageConfig")).Return(tgbotapi.Message{}, nil).Once()
		api.On("SendMediaGroup", mock.MatchedBy(func(c tgbotapi.MediaGroupConfig) bool {
			return c.ChatID == 1000 && len(c.Media) == 10
		})).Return([]tgbotapi.Message{}, nil).Once()
		api.On("Send", mock.AnythingOfType("tgbotapi.PhotoConfig")).Return(tgbotapi.Message{}, nil).Once()

		require.NoError(t, tr.ForwardReport(context.Background(), 1000, reporter, target, shots))
		api.AssertExpectations(t)
	})

	t.Run("header failure stops forwarding", func(t *testing.T) {
		tr, api := newTransport(t)
		api.On("Send", mock.Anything).Return(tgbotapi.Message{}, apiError(403, "Forbidden")).Once()

		assert.Error(t, tr.ForwardReport(context.Background(), 1000, reporter, target, []string{"s1", "s2"}))
		api.AssertNotCalled(t, "SendMediaGroup", mock.Anything)
	})
}
