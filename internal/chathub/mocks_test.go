package chathub_test

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const operatorID = int64(1000)

// MockTransport is a testify mock of chathub.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, to int64, msg models.OutboundMessage) chathub.Delivery {
	args := m.Called(ctx, to, msg)
	return args.Get(0).(chathub.Delivery)
}

func (m *MockTransport) EditText(ctx context.Context, to, messageID int64, text string, entities []models.Entity) chathub.Delivery {
	args := m.Called(ctx, to, messageID, text, entities)
	return args.Get(0).(chathub.Delivery)
}

func (m *MockTransport) EditCaption(ctx context.Context, to, messageID int64, caption string, entities []models.Entity) chathub.Delivery {
	args := m.Called(ctx, to, messageID, caption, entities)
	return args.Get(0).(chathub.Delivery)
}

func (m *MockTransport) Notify(ctx context.Context, to int64, n chathub.Notice) chathub.Delivery {
	args := m.Called(ctx, to, n)
	return args.Get(0).(chathub.Delivery)
}

type recorded struct {
	To     int64
	Notice chathub.Notice
}

// recordingNotifier delivers notices synchronously into a slice.
type recordingNotifier struct {
	mu  sync.Mutex
	got []recorded
}

func (n *recordingNotifier) Notify(_ context.Context, to int64, x chathub.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, recorded{To: to, Notice: x})
}

// For returns the notices sent to one participant, in order.
func (n *recordingNotifier) For(to int64) []chathub.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []chathub.Notice
	for _, r := range n.got {
		if r.To == to {
			out = append(out, r.Notice)
		}
	}
	return out
}

func (n *recordingNotifier) Keys(to int64) []string {
	var keys []string
	for _, x := range n.For(to) {
		keys = append(keys, x.Key)
	}
	return keys
}

func (n *recordingNotifier) Has(to int64, key string) bool {
	for _, k := range n.Keys(to) {
		if k == key {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = nil
}

type testEnv struct {
	hub       *chathub.Hub
	store     *storage.MemoryStore
	notifier  *recordingNotifier
	transport *MockTransport
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, storage.NewMemoryStore())
}

// newTestEnvWith builds the hub on s, which must wrap a MemoryStore.
func newTestEnvWith(t *testing.T, s storage.Storage) *testEnv {
	t.Helper()
	var store *storage.MemoryStore
	switch v := s.(type) {
	case *storage.MemoryStore:
		store = v
	case *hookedStore:
		store = v.MemoryStore
	default:
		t.Fatalf("unsupported store %T", s)
	}
	notifier := &recordingNotifier{}
	transport := new(MockTransport)
	hub := chathub.NewHub(s, transport, notifier, operatorID, zaptest.NewLogger(t))
	return &testEnv{hub: hub, store: store, notifier: notifier, transport: transport}
}

// hookedStore is a MemoryStore that runs callbacks inside selected calls,
// letting tests interleave operations at exact points.
type hookedStore struct {
	*storage.MemoryStore

	mu           sync.Mutex
	afterGetUser func(id int64)
	onAppendLog  func(entry *models.ChatLog)
	onMirrorAdd  func(queue string, id int64)
}

func (s *hookedStore) hooks() (func(int64), func(*models.ChatLog), func(string, int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afterGetUser, s.onAppendLog, s.onMirrorAdd
}

func (s *hookedStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.MemoryStore.GetUser(ctx, id)
	if hook, _, _ := s.hooks(); hook != nil {
		hook(id)
	}
	return u, err
}

func (s *hookedStore) AppendChatLog(ctx context.Context, entry *models.ChatLog) error {
	if _, hook, _ := s.hooks(); hook != nil {
		hook(entry)
	}
	return s.MemoryStore.AppendChatLog(ctx, entry)
}

func (s *hookedStore) MirrorQueueAdd(ctx context.Context, queue string, id int64) error {
	if _, _, hook := s.hooks(); hook != nil {
		hook(queue, id)
	}
	return s.MemoryStore.MirrorQueueAdd(ctx, queue, id)
}

func (e *testEnv) admit(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		adm, err := e.hub.Admit(context.Background(), chathub.Profile{ID: id, FirstName: fmt.Sprintf("user%d", id)}, "")
		require.NoError(t, err)
		require.True(t, adm.Allowed)
	}
}

func (e *testEnv) user(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

// pair puts a and b into a session through the public search path.
func (e *testEnv) pair(t *testing.T, a, b int64) string {
	t.Helper()
	ctx := context.Background()
	out, err := e.hub.StartSearch(ctx, a)
	require.NoError(t, err)
	require.Equal(t, chathub.SearchEnqueued, out)
	out, err = e.hub.StartSearch(ctx, b)
	require.NoError(t, err)
	require.Equal(t, chathub.SearchMatched, out)
	return e.user(t, a).Session()
}

func delivered(id int64) chathub.Delivery {
	return chathub.Delivery{MessageID: id, Status: chathub.Delivered}
}
