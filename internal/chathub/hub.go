// Package chathub is the pairing, session, relay and moderation core of the
// anonymous chat. The transport layer drives it through the Hub entry
// points; every blocking call takes a context.
package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Profile is the identity a transport reports with each inbound event.
type Profile struct {
	ID        int64
	FirstName string
	Username  string
}

// Admission is the result of the entry gate.
type Admission struct {
	User    *models.User
	IsNew   bool
	Allowed bool
	// Amnestied is true when the event was the amnesty phrase and lifted a ban.
	Amnestied bool
}

// SearchOutcome is the result of StartSearch.
type SearchOutcome int

const (
	SearchMatched SearchOutcome = iota
	SearchEnqueued
	SearchAlreadySearching
)

// StopOutcome is the result of Stop.
type StopOutcome int

const (
	StopCancelled StopOutcome = iota
	StopEnded
	StopNotActive
)

// Hub owns the queues and the session machinery of one service instance.
type Hub struct {
	Storage     storage.Storage
	Pairing     *PairingQueue
	Sessions    *SessionRegistry
	Relay       *MessageRelay
	Escalations *EscalationQueue
	Links       *MessageLinkGraph
	Moderation  *moderation.Engine

	OperatorID int64

	notifier  Notifier
	locks     *userLocks
	logger    *zap.Logger
	startedAt time.Time
}

// NewHub wires the core components around one store, transport and notifier.
func NewHub(s storage.Storage, t Transport, n Notifier, operatorID int64, logger *zap.Logger) *Hub {
	locks := newUserLocks()
	engine := moderation.NewEngine()
	links := NewMessageLinkGraph(s)
	pairing := NewPairingQueue(s, locks, n, logger.Named("pairing"))
	sessions := NewSessionRegistry(s, engine, locks, n, operatorID, logger.Named("sessions"))

	return &Hub{
		Storage:     s,
		Pairing:     pairing,
		Sessions:    sessions,
		Relay:       NewMessageRelay(s, links, engine, sessions, t, n, locks, logger.Named("relay")),
		Escalations: NewEscalationQueue(s, pairing, sessions, locks, n, operatorID, logger.Named("escalations")),
		Links:       links,
		Moderation:  engine,
		OperatorID:  operatorID,
		notifier:    n,
		locks:       locks,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

// IsOperator reports whether userID is the configured operator.
func (h *Hub) IsOperator(userID int64) bool {
	return userID == h.OperatorID
}

// ResetOnStartup returns every Waiting or Chatting user to Idle. The queues
// live in memory, so nothing survives a restart.
func (h *Hub) ResetOnStartup(ctx context.Context) (int64, error) {
	n, err := h.Storage.ResetChatStatuses(ctx)
	if err != nil {
		return 0, err
	}
	if err := h.Pairing.Reset(ctx); err != nil {
		h.logger.Warn("queue mirror reset failed", zap.Error(err))
	}
	if err := h.Escalations.Reset(ctx); err != nil {
		h.logger.Warn("sos mirror reset failed", zap.Error(err))
	}
	metrics.ActiveSessions.Set(0)
	h.logger.Info("chat statuses reset", zap.Int64("users", n))
	return n, nil
}

// Admit registers or refreshes the sender of an inbound event. Banned users
// are not allowed through; for them the amnesty phrase is checked first.
func (h *Hub) Admit(ctx context.Context, p Profile, text string) (Admission, error) {
	unlock := h.locks.lock(p.ID)
	defer unlock()

	user, err := h.Storage.GetUser(ctx, p.ID)
	if err != nil {
		return Admission{}, err
	}

	now := time.Now()
	adm := Admission{IsNew: user == nil}
	if user == nil {
		user = &models.User{
			ID:           p.ID,
			ChatStatus:   models.StatusIdle,
			RegisteredAt: now,
		}
		h.logger.Info("new user registered", zap.Int64("user_id", p.ID))
	}

	if user.Banned {
		adm.User = user
		if text == config.AmnestyPhrase {
			adm.Amnestied, err = h.amnesty(ctx, user, text)
		}
		return adm, err
	}

	user.FirstName = p.FirstName
	user.Username = p.Username
	if user.Username == "" {
		user.Username = config.DefaultHandle
	}
	user.LastActiveAt = now
	user.Unreachable = false

	if err := h.Storage.UpsertUser(ctx, user); err != nil {
		return Admission{}, err
	}
	adm.User = user
	adm.Allowed = true
	return adm, nil
}

// SubmitAmnesty lifts the ban of userID when phrase matches. It has no
// effect for users that are not banned.
func (h *Hub) SubmitAmnesty(ctx context.Context, userID int64, phrase string) (bool, error) {
	unlock := h.locks.lock(userID)
	defer unlock()

	user, err := h.Storage.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, ErrUnknownUser
	}
	return h.amnesty(ctx, user, phrase)
}

// amnesty applies the phrase to a locked user record.
func (h *Hub) amnesty(ctx context.Context, user *models.User, phrase string) (bool, error) {
	if !moderation.HandleAmnesty(user, phrase) {
		return false, nil
	}
	if err := h.Storage.UpsertUser(ctx, user); err != nil {
		return false, err
	}
	metrics.ModerationActionsTotal.WithLabelValues("amnesty").Inc()
	h.logger.Info("amnesty granted", zap.Int64("user_id", user.ID))
	h.notifier.Notify(ctx, user.ID, notice(NoticeAmnesty))
	return true, nil
}

// StartSearch looks for a partner. A user already chatting leaves the
// current session first and the former partner is told they moved on.
func (h *Hub) StartSearch(ctx context.Context, userID int64) (SearchOutcome, error) {
	user, err := h.Storage.GetUser(ctx, userID)
	if err != nil {
		return SearchAlreadySearching, err
	}
	if user == nil {
		return SearchAlreadySearching, ErrUnknownUser
	}
	if user.Banned {
		return SearchAlreadySearching, ErrBanned
	}

	switch user.ChatStatus {
	case models.StatusWaiting:
		h.notifier.Notify(ctx, userID, notice(NoticeSearchAlready))
		return SearchAlreadySearching, nil
	case models.StatusChatting:
		_, err := h.Sessions.EndSession(ctx, userID, user.Partner(), userID, true)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return SearchAlreadySearching, fmt.Errorf("end session before search: %w", err)
		}
	}

	res, err := h.Pairing.RequestPairing(ctx, userID)
	if errors.Is(err, ErrInvalidTransition) {
		h.notifier.Notify(ctx, userID, notice(NoticeSearchAlready))
		return SearchAlreadySearching, nil
	}
	if err != nil {
		return SearchAlreadySearching, err
	}
	if res.Matched {
		return SearchMatched, nil
	}
	return SearchEnqueued, nil
}

// Stop cancels a search or ends the current chat.
func (h *Hub) Stop(ctx context.Context, userID int64) (StopOutcome, error) {
	user, err := h.Storage.GetUser(ctx, userID)
	if err != nil {
		return StopNotActive, err
	}
	if user == nil {
		return StopNotActive, ErrUnknownUser
	}

	switch user.ChatStatus {
	case models.StatusWaiting:
		err := h.Pairing.CancelWaiting(ctx, userID)
		if err == nil {
			h.notifier.Notify(ctx, userID, notice(NoticeStopCancelled))
			return StopCancelled, nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return StopNotActive, err
		}
	case models.StatusChatting:
		_, err := h.Sessions.EndSession(ctx, userID, 0, userID, false)
		if err == nil {
			return StopEnded, nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return StopNotActive, err
		}
	}

	h.logger.Debug("stop without active chat", zap.Int64("user_id", userID))
	h.notifier.Notify(ctx, userID, notice(NoticeStopNotActive))
	return StopNotActive, nil
}

// RequestEscalation queues userID for direct contact with the operator.
func (h *Hub) RequestEscalation(ctx context.Context, userID int64) (EscalationStatus, error) {
	return h.Escalations.Enqueue(ctx, userID)
}

// OperatorDequeueEscalation connects the operator to the next requester.
func (h *Hub) OperatorDequeueEscalation(ctx context.Context, operatorID int64) (DequeueResult, error) {
	return h.Escalations.DequeueNext(ctx, operatorID)
}

// RelayInbound forwards a chat message to the sender's partner.
func (h *Hub) RelayInbound(ctx context.Context, userID int64, msg models.InboundMessage) (RelayOutcome, error) {
	return h.Relay.RelayInbound(ctx, userID, msg)
}

// RelayEdit propagates an edit to the partner's copy of the message.
func (h *Hub) RelayEdit(ctx context.Context, userID int64, msg models.InboundMessage) error {
	return h.Relay.RelayEdit(ctx, userID, msg)
}

// MarkUnreachable flags a user whose chat refused a delivery.
func (h *Hub) MarkUnreachable(ctx context.Context, userID int64) {
	if err := h.Relay.markUnreachable(ctx, userID); err != nil {
		h.logger.Error("mark unreachable failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Stats combines the stored counters with the live queue sizes.
func (h *Hub) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := h.Storage.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.Waiting = h.Pairing.Len()
	stats.Escalations = h.Escalations.Len()
	stats.Uptime = time.Since(h.startedAt)
	return stats, nil
}
