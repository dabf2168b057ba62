package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBotAPI is a mock implementation of the BotAPI interface.
type MockBotAPI struct {
	mock.Mock
}

func (m *MockBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *MockBotAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	resp, _ := args.Get(0).(*tgbotapi.APIResponse)
	return resp, args.Error(1)
}

func (m *MockBotAPI) SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	args := m.Called(config)
	msgs, _ := args.Get(0).([]tgbotapi.Message)
	return msgs, args.Error(1)
}

// MockReportDrafts is a mock implementation of the ReportDrafts interface.
type MockReportDrafts struct {
	mock.Mock
}

func (m *MockReportDrafts) Start(reporterID, targetID int64) error {
	return m.Called(reporterID, targetID).Error(0)
}

func (m *MockReportDrafts) Active(reporterID int64) bool {
	return m.Called(reporterID).Bool(0)
}

func (m *MockReportDrafts) AddScreenshot(reporterID int64, fileID string) error {
	return m.Called(reporterID, fileID).Error(0)
}

func (m *MockReportDrafts) Finish(ctx context.Context, reporterID int64) (*models.Report, error) {
	args := m.Called(ctx, reporterID)
	rep, _ := args.Get(0).(*models.Report)
	return rep, args.Error(1)
}

func (m *MockReportDrafts) Cancel(reporterID int64) bool {
	return m.Called(reporterID).Bool(0)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]chathub.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, to int64, x chathub.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[int64][]chathub.Notice)
	}
	n.sent[to] = append(n.sent[to], x)
}

func (n *recordingNotifier) Keys(to int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var keys []string
	for _, x := range n.sent[to] {
		keys = append(keys, x.Key)
	}
	return keys
}

func (n *recordingNotifier) Last(to int64) chathub.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent[to]) == 0 {
		return chathub.Notice{}
	}
	return n.sent[to][len(n.sent[to])-1]
}

func newLocalizer(t *testing.T) *localization.Localizer {
	t.Helper()
	l, err := localization.New()
	require.NoError(t, err)
	return l
}

func apiError(code int, message string) error {
	return &tgbotapi.Error{Code: code, Message: message}
}

func privateChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "private"}
}

func command(from int64, name string) *tgbotapi.Message {
	text := "/" + name
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Ales"},
		Chat:      privateChat(from),
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func textMessage(from int64, id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: from, FirstName: "Ales"},
		Chat:      privateChat(from),
		Text:      text,
	}
}
