package chathub_test

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestEndToEnd_SearchRelayReplyStop walks two users through a full chat.
func TestEndToEnd_SearchRelayReplyStop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)

	// Arrange: A waits, B matches.
	out, err := env.hub.StartSearch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, chathub.SearchEnqueued, out)
	assert.Equal(t, models.StatusWaiting, env.user(t, 1).ChatStatus)

	out, err = env.hub.StartSearch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, chathub.SearchMatched, out)
	a, b := env.user(t, 1), env.user(t, 2)
	assert.Equal(t, a.Session(), b.Session())
	assert.True(t, env.notifier.Has(1, chathub.NoticeConnected))
	assert.True(t, env.notifier.Has(2, chathub.NoticeConnected))

	// Act: A sends a photo, B replies to it with text.
	photo := models.InboundMessage{ID: 10, Kind: models.KindPhoto, FileID: "photo-1", Caption: "глядзі"}
	env.transport.On("Send", mock.Anything, int64(2), mock.MatchedBy(func(m models.OutboundMessage) bool {
		return m.Kind == models.KindPhoto && m.FileID == "photo-1" && m.Caption == "глядзі" && m.ReplyTo == 0
	})).Return(delivered(501)).Once()

	outcome, err := env.hub.RelayInbound(ctx, 1, photo)
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeDelivered, outcome)

	reply := models.InboundMessage{ID: 20, Kind: models.KindText, Text: "прыгожа", ReplyToID: 501}
	env.transport.On("Send", mock.Anything, int64(1), mock.MatchedBy(func(m models.OutboundMessage) bool {
		return m.Kind == models.KindText && m.Text == "прыгожа" && m.ReplyTo == 10
	})).Return(delivered(601)).Once()

	outcome, err = env.hub.RelayInbound(ctx, 2, reply)
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeDelivered, outcome)

	// A stops.
	env.notifier.Reset()
	stop, err := env.hub.Stop(ctx, 1)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, chathub.StopEnded, stop)
	assert.Equal(t, models.StatusIdle, env.user(t, 1).ChatStatus)
	assert.Equal(t, models.StatusIdle, env.user(t, 2).ChatStatus)
	assert.Equal(t, []string{chathub.NoticeEndedSelf, chathub.NoticeReportPrompt}, env.notifier.Keys(1))
	assert.Equal(t, []string{chathub.NoticeEndedPartner, chathub.NoticeReportPrompt}, env.notifier.Keys(2))
	assert.Equal(t, int64(1), env.notifier.For(2)[1].ReportTarget)

	log, err := env.store.SessionLog(ctx, a.Session())
	require.NoError(t, err)
	assert.Len(t, log, 2)
	env.transport.AssertExpectations(t)
}

func TestRelayInbound_LinksBothDirections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	env.pair(t, 1, 2)

	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).Return(delivered(77)).Once()
	_, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 5, Kind: models.KindSticker, FileID: "st"})
	require.NoError(t, err)

	fwd, err := env.hub.Links.Resolve(ctx, models.MessageRef{ChatID: 1, MessageID: 5})
	require.NoError(t, err)
	require.NotNil(t, fwd)
	assert.Equal(t, models.MessageRef{ChatID: 2, MessageID: 77}, *fwd)

	back, err := env.hub.Links.Resolve(ctx, models.MessageRef{ChatID: 2, MessageID: 77})
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, models.MessageRef{ChatID: 1, MessageID: 5}, *back)
}

func TestRelayInbound_NoSessionDropsSilently(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, 1)

	outcome, err := env.hub.RelayInbound(context.Background(), 1, models.InboundMessage{ID: 1, Kind: models.KindText, Text: "хто тут?"})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeNoSession, outcome)
	env.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayInbound_ReplyDegradesWithoutLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2, 3)
	env.pair(t, 1, 2)

	// Unknown replied-to message.
	env.transport.On("Send", mock.Anything, int64(2), mock.MatchedBy(func(m models.OutboundMessage) bool {
		return m.ReplyTo == 0
	})).Return(delivered(100)).Twice()
	outcome, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 11, Kind: models.KindText, Text: "адказ", ReplyToID: 999})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeDelivered, outcome)

	// A link from a previous session points into another chat.
	_, err = env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 12, Kind: models.KindText, Text: "першае"})
	require.NoError(t, err)
	_, err = env.hub.Stop(ctx, 1)
	require.NoError(t, err)
	env.pair(t, 1, 3)

	env.transport.On("Send", mock.Anything, int64(3), mock.MatchedBy(func(m models.OutboundMessage) bool {
		return m.ReplyTo == 0
	})).Return(delivered(200)).Once()
	outcome, err = env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 13, Kind: models.KindText, Text: "зноў", ReplyToID: 12})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeDelivered, outcome)
	env.transport.AssertExpectations(t)
}

func TestRelayInbound_UnreachableEndsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	env.pair(t, 1, 2)
	env.notifier.Reset()

	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).
		Return(chathub.Delivery{Status: chathub.Unreachable, Err: errors.New("Forbidden: bot was blocked by the user")}).Once()

	outcome, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 3, Kind: models.KindText, Text: "ты тут?"})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeRecipientUnreachable, outcome)

	a, b := env.user(t, 1), env.user(t, 2)
	assert.Equal(t, models.StatusIdle, a.ChatStatus)
	assert.Equal(t, models.StatusIdle, b.ChatStatus)
	assert.True(t, b.Unreachable)
	assert.True(t, env.notifier.Has(1, chathub.NoticeUndeliverable))
	assert.True(t, env.notifier.Has(1, chathub.NoticeEndedSelf))

	// Any new activity clears the flag.
	env.admit(t, 2)
	assert.False(t, env.user(t, 2).Unreachable)
}

func TestRelayInbound_TransientKeepsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	env.pair(t, 1, 2)

	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).
		Return(chathub.Delivery{Status: chathub.Transient, Err: errors.New("Too Many Requests")}).Once()

	outcome, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 3, Kind: models.KindVoice, FileID: "v"})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeTransient, outcome)
	assert.True(t, env.user(t, 1).IsChatting())

	link, err := env.hub.Links.Resolve(ctx, models.MessageRef{ChatID: 1, MessageID: 3})
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestRelayInbound_OtherKindIsCopied(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	env.pair(t, 1, 2)

	env.transport.On("Send", mock.Anything, int64(2), mock.MatchedBy(func(m models.OutboundMessage) bool {
		return m.Kind == models.KindOther && m.CopyFrom == models.MessageRef{ChatID: 1, MessageID: 8}
	})).Return(delivered(9)).Once()

	outcome, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 8, Kind: models.KindOther})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeDelivered, outcome)
	env.transport.AssertExpectations(t)
}

func TestRelayEdit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	sessionID := env.pair(t, 1, 2)

	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).Return(delivered(501)).Once()
	_, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 10, Kind: models.KindText, Text: "старое"})
	require.NoError(t, err)
	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).Return(delivered(502)).Once()
	_, err = env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 11, Kind: models.KindPhoto, FileID: "p", Caption: "подпіс"})
	require.NoError(t, err)

	t.Run("text edit is applied and logged", func(t *testing.T) {
		env.transport.On("EditText", mock.Anything, int64(2), int64(501), "новае", mock.Anything).Return(delivered(501)).Once()
		require.NoError(t, env.hub.RelayEdit(ctx, 1, models.InboundMessage{ID: 10, Kind: models.KindText, Text: "новае"}))

		log, err := env.store.SessionLog(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "новае", log[0].Text)
	})

	t.Run("caption edit", func(t *testing.T) {
		env.transport.On("EditCaption", mock.Anything, int64(2), int64(502), "іншы подпіс", mock.Anything).Return(delivered(502)).Once()
		require.NoError(t, env.hub.RelayEdit(ctx, 1, models.InboundMessage{ID: 11, Kind: models.KindPhoto, FileID: "p", Caption: "іншы подпіс"}))
	})

	t.Run("not modified is swallowed", func(t *testing.T) {
		env.transport.On("EditText", mock.Anything, int64(2), int64(501), "новае", mock.Anything).
			Return(chathub.Delivery{Status: chathub.Transient, Err: chathub.ErrNotModified}).Once()
		assert.NoError(t, env.hub.RelayEdit(ctx, 1, models.InboundMessage{ID: 10, Kind: models.KindText, Text: "новае"}))
	})

	t.Run("edit without link is dropped", func(t *testing.T) {
		assert.NoError(t, env.hub.RelayEdit(ctx, 1, models.InboundMessage{ID: 999, Kind: models.KindText, Text: "x"}))
		env.transport.AssertNotCalled(t, "EditText", mock.Anything, int64(2), int64(0), "x", mock.Anything)
	})

	env.transport.AssertExpectations(t)
}

// TestModeration_BanAtThirdSessionTeardown checks that warnings accrue once
// per session and only when the session ends.
func TestModeration_BanAtThirdSessionTeardown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2, 3, 4)
	env.transport.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(delivered(1))

	for i, partner := range []int64{2, 3, 4} {
		env.pair(t, 1, partner)
		for msgID := int64(1); msgID <= 2; msgID++ {
			_, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{
				ID: int64(i*10) + msgID, Kind: models.KindText, Text: "привет",
			})
			require.NoError(t, err)
		}

		mid := env.user(t, 1)
		assert.Equal(t, i, mid.Warnings, "no warning before teardown")
		assert.False(t, mid.Banned, "never banned mid-session")

		_, err := env.hub.Stop(ctx, partner)
		require.NoError(t, err)

		after := env.user(t, 1)
		assert.Equal(t, i+1, after.Warnings)
		assert.Equal(t, i == 2, after.Banned)
		assert.Equal(t, models.StatusIdle, after.ChatStatus)
		assert.Equal(t, 0, env.user(t, partner).Warnings)
	}

	var keys []string
	for _, n := range env.notifier.For(1) {
		if n.Key == chathub.NoticeWarning || n.Key == chathub.NoticeBanned {
			keys = append(keys, n.Key)
		}
	}
	assert.Equal(t, []string{chathub.NoticeWarning, chathub.NoticeWarning, chathub.NoticeBanned}, keys)

	_, err := env.hub.StartSearch(ctx, 1)
	assert.ErrorIs(t, err, chathub.ErrBanned)
}

// TestRelayInbound_ConcurrentStopConsumesFlag: the partner stops the chat
// while a violating message is being logged. The stop has to wait for the
// flag and turn it into a warning.
func TestRelayInbound_ConcurrentStopConsumesFlag(t *testing.T) {
	ctx := context.Background()
	store := &hookedStore{MemoryStore: storage.NewMemoryStore()}
	env := newTestEnvWith(t, store)
	env.admit(t, 1, 2)
	sessionID := env.pair(t, 1, 2)
	env.transport.On("Send", mock.Anything, int64(2), mock.Anything).Return(delivered(300)).Maybe()

	stopped := make(chan error, 1)
	var once sync.Once
	store.onAppendLog = func(*models.ChatLog) {
		once.Do(func() {
			go func() {
				_, err := env.hub.Stop(ctx, 2)
				stopped <- err
			}()
			// Let the stop reach the user locks.
			time.Sleep(50 * time.Millisecond)
		})
	}

	_, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 1, Kind: models.KindText, Text: "щ"})
	require.NoError(t, err)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not finish")
	}

	u := env.user(t, 1)
	assert.Equal(t, models.StatusIdle, u.ChatStatus)
	assert.Equal(t, 1, u.Warnings)
	assert.False(t, env.hub.Moderation.Pending(sessionID, 1))
	assert.Equal(t, models.StatusIdle, env.user(t, 2).ChatStatus)
}

func TestRelayInbound_AfterStopRaisesNoFlag(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	sessionID := env.pair(t, 1, 2)

	_, err := env.hub.Stop(ctx, 2)
	require.NoError(t, err)

	out, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 5, Kind: models.KindText, Text: "щ"})
	require.NoError(t, err)
	assert.Equal(t, chathub.OutcomeNoSession, out)
	assert.False(t, env.hub.Moderation.Pending(sessionID, 1))
	env.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	// A later clean session ends without a warning.
	env.pair(t, 1, 2)
	_, err = env.hub.Stop(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, env.user(t, 1).Warnings)
}

func TestModeration_CaptionsAreNotScanned(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1, 2)
	env.pair(t, 1, 2)
	env.transport.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(delivered(1))

	_, err := env.hub.RelayInbound(ctx, 1, models.InboundMessage{ID: 1, Kind: models.KindPhoto, FileID: "p", Caption: "привет"})
	require.NoError(t, err)
	_, err = env.hub.Stop(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, env.user(t, 1).Warnings)
}

func TestAmnesty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.admit(t, 1)

	// Not banned: no effect.
	u := env.user(t, 1)
	u.Warnings = 2
	require.NoError(t, env.store.UpsertUser(ctx, u))
	ok, err := env.hub.SubmitAmnesty(ctx, 1, "АДРАДЖЭННЕ")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, env.user(t, 1).Warnings)

	u = env.user(t, 1)
	u.Warnings = 3
	u.Banned = true
	require.NoError(t, env.store.UpsertUser(ctx, u))

	// Banned users are held at the gate.
	adm, err := env.hub.Admit(ctx, chathub.Profile{ID: 1}, "/search")
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.False(t, adm.Amnestied)

	adm, err = env.hub.Admit(ctx, chathub.Profile{ID: 1}, "АДРАДЖЭННЕ")
	require.NoError(t, err)
	assert.True(t, adm.Amnestied)
	assert.False(t, adm.Allowed)

	after := env.user(t, 1)
	assert.False(t, after.Banned)
	assert.Equal(t, 0, after.Warnings)
	assert.True(t, env.notifier.Has(1, chathub.NoticeAmnesty))
}

func TestAdmit_RegistersAndRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	adm, err := env.hub.Admit(ctx, chathub.Profile{ID: 5, FirstName: "Янка"}, "")
	require.NoError(t, err)
	assert.True(t, adm.IsNew)
	assert.True(t, adm.Allowed)

	u := env.user(t, 5)
	assert.Equal(t, "няма", u.Username)
	assert.Equal(t, models.StatusIdle, u.ChatStatus)
	assert.False(t, u.RegisteredAt.IsZero())

	adm, err = env.hub.Admit(ctx, chathub.Profile{ID: 5, FirstName: "Янка", Username: "janka"}, "")
	require.NoError(t, err)
	assert.False(t, adm.IsNew)
	assert.Equal(t, "janka", env.user(t, 5).Username)
}
