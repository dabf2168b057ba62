package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PairingResult reports what RequestPairing did.
type PairingResult struct {
	Matched bool
	Session models.Session
}

// PairingQueue is the FIFO of Waiting users. The match-or-enqueue decision
// runs entirely under mu, so two concurrent searches can never both enqueue
// or both take the same partner.
type PairingQueue struct {
	mu    sync.Mutex
	order []int64

	users    storage.UserDirectory
	mirror   storage.QueueMirror
	events   storage.EventBus
	locks    *userLocks
	notifier Notifier
	logger   *zap.Logger
}

// NewPairingQueue creates an empty queue.
func NewPairingQueue(s storage.Storage, locks *userLocks, n Notifier, logger *zap.Logger) *PairingQueue {
	return &PairingQueue{
		users:    s,
		mirror:   s,
		events:   s,
		locks:    locks,
		notifier: n,
		logger:   logger,
	}
}

func newSessionID() string {
	id := uuid.New()
	return config.SessionIDPrefix + hex.EncodeToString(id[:])[:config.SessionIDLength]
}

func newSession(a, b int64) models.Session {
	return models.Session{
		ID:           newSessionID(),
		Participants: [2]int64{a, b},
		CreatedAt:    time.Now(),
	}
}

// RequestPairing matches userID with the oldest waiting user, or enqueues
// it when nobody is waiting. Notifications go out after the decision is
// committed.
func (q *PairingQueue) RequestPairing(ctx context.Context, userID int64) (PairingResult, error) {
	res, dropped, err := q.matchOrEnqueue(ctx, userID)
	for _, id := range dropped {
		q.mirrorRemove(ctx, id)
	}
	if err != nil {
		return res, err
	}

	if !res.Matched {
		if err := q.mirror.MirrorQueueAdd(ctx, storage.QueueWaiting, userID); err != nil {
			q.logger.Warn("queue mirror add failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		q.notifier.Notify(ctx, userID, notice(NoticeSearchWaiting))
		return res, nil
	}

	partnerID := res.Session.PartnerOf(userID)
	q.mirrorRemove(ctx, partnerID)
	q.mirrorRemove(ctx, userID)
	q.announce(ctx, res.Session, "queue")
	q.notifier.Notify(ctx, userID, notice(NoticeConnected))
	q.notifier.Notify(ctx, partnerID, notice(NoticeConnected))
	return res, nil
}

func (q *PairingQueue) matchOrEnqueue(ctx context.Context, userID int64) (res PairingResult, dropped []int64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.updateGauge()

	wasQueued := q.remove(userID)
	defer func() {
		if err != nil && wasQueued {
			q.order = append(q.order, userID)
		}
	}()

	for len(q.order) > 0 {
		partnerID := q.order[0]
		q.order = q.order[1:]

		session, stale, err := q.bindPair(ctx, userID, partnerID)
		if err != nil {
			q.order = append([]int64{partnerID}, q.order...)
			return res, dropped, err
		}
		if stale {
			dropped = append(dropped, partnerID)
			continue
		}
		return PairingResult{Matched: true, Session: session}, dropped, nil
	}

	unlock := q.locks.lock(userID)
	defer unlock()

	user, err := q.loadSearcher(ctx, userID)
	if err != nil {
		return res, dropped, err
	}
	if user.ChatStatus != models.StatusWaiting {
		user.ChatStatus = models.StatusWaiting
		if err := q.users.UpsertUser(ctx, user); err != nil {
			return res, dropped, err
		}
	}
	q.order = append(q.order, userID)
	return PairingResult{}, dropped, nil
}

// loadSearcher returns the record of a user that may enter the queue.
func (q *PairingQueue) loadSearcher(ctx context.Context, userID int64) (*models.User, error) {
	user, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	if user.Banned {
		return nil, ErrBanned
	}
	if user.ChatStatus == models.StatusChatting {
		return nil, ErrInvalidTransition
	}
	return user, nil
}

// bindPair commits the session between userID and the popped queue entry.
// stale is true when the entry no longer describes a Waiting user.
func (q *PairingQueue) bindPair(ctx context.Context, userID, partnerID int64) (models.Session, bool, error) {
	unlock := q.locks.lock(userID, partnerID)
	defer unlock()

	user, err := q.loadSearcher(ctx, userID)
	if err != nil {
		return models.Session{}, false, err
	}
	partner, err := q.users.GetUser(ctx, partnerID)
	if err != nil {
		return models.Session{}, false, err
	}
	if partner == nil || partner.ChatStatus != models.StatusWaiting || partner.Banned {
		if partner != nil && partner.ChatStatus == models.StatusWaiting {
			partner.ResetChat()
			if err := q.users.UpsertUser(ctx, partner); err != nil {
				return models.Session{}, false, err
			}
		}
		q.logger.Info("dropping stale queue entry", zap.Int64("user_id", partnerID))
		return models.Session{}, true, nil
	}

	session := newSession(userID, partnerID)
	if err := q.commit(ctx, user, partner, session); err != nil {
		return models.Session{}, false, err
	}
	return session, false, nil
}

// commit binds both records to session and persists them. A failure on the
// second write rolls the first one back.
func (q *PairingQueue) commit(ctx context.Context, a, b *models.User, session models.Session) error {
	prevA := *a
	a.BindTo(b.ID, session.ID)
	b.BindTo(a.ID, session.ID)

	if err := q.users.UpsertUser(ctx, a); err != nil {
		return err
	}
	if err := q.users.UpsertUser(ctx, b); err != nil {
		if rbErr := q.users.UpsertUser(ctx, &prevA); rbErr != nil {
			q.logger.Error("pairing rollback failed", zap.Int64("user_id", a.ID), zap.Error(rbErr))
		}
		return err
	}
	return nil
}

// BindDirect pairs operatorID with userID without drawing from the queue.
// The operator may be Idle or Waiting; userID must be Idle.
func (q *PairingQueue) BindDirect(ctx context.Context, operatorID, userID int64) (models.Session, error) {
	session, wasQueued, err := q.bindDirect(ctx, operatorID, userID)
	if err != nil {
		return session, err
	}
	if wasQueued {
		q.mirrorRemove(ctx, operatorID)
	}
	q.announce(ctx, session, "escalation")
	return session, nil
}

func (q *PairingQueue) bindDirect(ctx context.Context, operatorID, userID int64) (models.Session, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.updateGauge()

	unlock := q.locks.lock(operatorID, userID)
	defer unlock()

	op, err := q.users.GetUser(ctx, operatorID)
	if err != nil {
		return models.Session{}, false, err
	}
	user, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return models.Session{}, false, err
	}
	if op == nil || user == nil {
		return models.Session{}, false, ErrUnknownUser
	}
	if op.ChatStatus == models.StatusChatting || user.ChatStatus != models.StatusIdle || user.Banned {
		return models.Session{}, false, ErrInvalidTransition
	}

	wasQueued := q.remove(operatorID)
	session := newSession(operatorID, userID)
	if err := q.commit(ctx, op, user, session); err != nil {
		if wasQueued {
			q.order = append(q.order, operatorID)
		}
		return models.Session{}, false, err
	}
	return session, wasQueued, nil
}

// CancelWaiting takes a Waiting user out of the queue and back to Idle.
func (q *PairingQueue) CancelWaiting(ctx context.Context, userID int64) error {
	if err := q.cancel(ctx, userID); err != nil {
		return err
	}
	q.mirrorRemove(ctx, userID)
	return nil
}

func (q *PairingQueue) cancel(ctx context.Context, userID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.updateGauge()

	unlock := q.locks.lock(userID)
	defer unlock()

	user, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownUser
	}
	if user.ChatStatus != models.StatusWaiting {
		return ErrInvalidTransition
	}

	wasQueued := q.remove(userID)
	user.ResetChat()
	if err := q.users.UpsertUser(ctx, user); err != nil {
		if wasQueued {
			q.order = append(q.order, userID)
		}
		return err
	}
	return nil
}

// Contains reports whether userID is queued.
func (q *PairingQueue) Contains(userID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if id == userID {
			return true
		}
	}
	return false
}

// Snapshot returns the queued ids, oldest first.
func (q *PairingQueue) Snapshot() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.order...)
}

// Len returns the number of waiting users.
func (q *PairingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Reset empties the queue and its mirror.
func (q *PairingQueue) Reset(ctx context.Context) error {
	q.mu.Lock()
	q.order = nil
	q.updateGauge()
	q.mu.Unlock()
	return q.mirror.MirrorQueueReset(ctx, storage.QueueWaiting)
}

// remove deletes userID from the queue. Callers hold q.mu.
func (q *PairingQueue) remove(userID int64) bool {
	for i, id := range q.order {
		if id == userID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return true
		}
	}
	return false
}

func (q *PairingQueue) updateGauge() {
	metrics.WaitingQueueSize.Set(float64(len(q.order)))
}

func (q *PairingQueue) mirrorRemove(ctx context.Context, userID int64) {
	if err := q.mirror.MirrorQueueRemove(ctx, storage.QueueWaiting, userID); err != nil {
		q.logger.Warn("queue mirror remove failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (q *PairingQueue) announce(ctx context.Context, s models.Session, source string) {
	metrics.MatchesTotal.WithLabelValues(source).Inc()
	metrics.ActiveSessions.Inc()
	q.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.Int64("user_a", s.Participants[0]),
		zap.Int64("user_b", s.Participants[1]),
		zap.String("source", source))

	ev := models.Event{
		Type:      models.EventSessionStarted,
		UserID:    s.Participants[0],
		PartnerID: s.Participants[1],
		SessionID: s.ID,
		At:        s.CreatedAt,
	}
	if err := q.events.PublishEvent(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		q.logger.Warn("publish event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
