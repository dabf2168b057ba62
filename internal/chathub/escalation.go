package chathub

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EscalationStatus is the result of an operator-contact request.
type EscalationStatus int

const (
	EscalationQueued EscalationStatus = iota
	EscalationAlreadyQueued
	// EscalationNotIdle means the requester is searching or chatting.
	EscalationNotIdle
)

// DequeueResult reports what DequeueNext did.
type DequeueResult struct {
	// NoneAvailable is true when the queue ran out of valid candidates.
	NoneAvailable bool
	UserID        int64
	Session       models.Session
	Skipped       []int64
}

// EscalationQueue is the FIFO of users waiting for the operator.
type EscalationQueue struct {
	mu    sync.Mutex
	order []int64

	users      storage.UserDirectory
	mirror     storage.QueueMirror
	events     storage.EventBus
	pairing    *PairingQueue
	sessions   *SessionRegistry
	locks      *userLocks
	notifier   Notifier
	operatorID int64
	logger     *zap.Logger
}

// NewEscalationQueue creates an empty queue served by operatorID.
func NewEscalationQueue(s storage.Storage, pairing *PairingQueue, sessions *SessionRegistry, locks *userLocks, n Notifier, operatorID int64, logger *zap.Logger) *EscalationQueue {
	return &EscalationQueue{
		users:      s,
		mirror:     s,
		events:     s,
		pairing:    pairing,
		sessions:   sessions,
		locks:      locks,
		notifier:   n,
		operatorID: operatorID,
		logger:     logger,
	}
}

// Enqueue adds an Idle user to the queue and alerts the operator.
func (e *EscalationQueue) Enqueue(ctx context.Context, userID int64) (EscalationStatus, error) {
	user, status, n, err := e.enqueueIdle(ctx, userID)
	if err != nil {
		return status, err
	}
	switch status {
	case EscalationNotIdle:
		e.notifier.Notify(ctx, userID, notice(NoticeSOSNotIdle))
		return status, nil
	case EscalationAlreadyQueued:
		e.notifier.Notify(ctx, userID, notice(NoticeSOSAlreadyQueued))
		return status, nil
	}

	e.logger.Info("escalation queued", zap.Int64("user_id", userID), zap.Int("queue_len", n))
	e.notifier.Notify(ctx, userID, notice(NoticeSOSQueued))
	e.notifier.Notify(ctx, e.operatorID, notice(NoticeSOSOperatorNew, user.DisplayName(), userID, n))
	e.publish(ctx, models.Event{Type: models.EventEscalationQueued, UserID: userID, QueueLen: n, At: time.Now()})
	return EscalationQueued, nil
}

// enqueueIdle checks the status and appends under the user's lock, so a
// search cannot move the user out of Idle in between.
func (e *EscalationQueue) enqueueIdle(ctx context.Context, userID int64) (*models.User, EscalationStatus, int, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, EscalationNotIdle, 0, err
	}
	if user == nil {
		return nil, EscalationNotIdle, 0, ErrUnknownUser
	}
	if user.ChatStatus != models.StatusIdle {
		return user, EscalationNotIdle, 0, nil
	}

	e.mu.Lock()
	if e.contains(userID) {
		e.mu.Unlock()
		return user, EscalationAlreadyQueued, 0, nil
	}
	e.order = append(e.order, userID)
	n := len(e.order)
	metrics.EscalationQueueSize.Set(float64(n))
	e.mu.Unlock()

	if err := e.mirror.MirrorQueueAdd(ctx, storage.QueueSOS, userID); err != nil {
		e.logger.Warn("sos mirror add failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return user, EscalationQueued, n, nil
}

// DequeueNext binds the operator to the oldest requester that is still
// Idle. Requesters that moved on are skipped. An active session of the
// operator is ended first.
func (e *EscalationQueue) DequeueNext(ctx context.Context, operatorID int64) (DequeueResult, error) {
	if operatorID != e.operatorID {
		return DequeueResult{}, ErrNotOperator
	}

	var res DequeueResult
	for {
		candidateID, ok := e.pop()
		if !ok {
			res.NoneAvailable = true
			e.notifier.Notify(ctx, operatorID, notice(NoticeSOSEmpty))
			return res, nil
		}
		if err := e.mirror.MirrorQueueRemove(ctx, storage.QueueSOS, candidateID); err != nil {
			e.logger.Warn("sos mirror remove failed", zap.Int64("user_id", candidateID), zap.Error(err))
		}

		candidate, err := e.users.GetUser(ctx, candidateID)
		if err != nil {
			return res, err
		}
		if candidate == nil || candidate.ChatStatus != models.StatusIdle || candidate.Banned {
			res.Skipped = append(res.Skipped, candidateID)
			e.notifier.Notify(ctx, operatorID, notice(NoticeSOSOperatorSkipped, candidateID))
			continue
		}

		if err := e.releaseOperator(ctx, operatorID); err != nil {
			e.pushFront(candidateID)
			return res, err
		}

		session, err := e.pairing.BindDirect(ctx, operatorID, candidateID)
		if errors.Is(err, ErrInvalidTransition) {
			res.Skipped = append(res.Skipped, candidateID)
			e.notifier.Notify(ctx, operatorID, notice(NoticeSOSOperatorSkipped, candidateID))
			continue
		}
		if err != nil {
			e.pushFront(candidateID)
			return res, err
		}

		res.UserID = candidateID
		res.Session = session
		e.logger.Info("escalation accepted", zap.Int64("user_id", candidateID), zap.String("session_id", session.ID))
		e.notifier.Notify(ctx, operatorID, notice(NoticeSOSConnecting, candidate.DisplayName(), candidateID))
		e.notifier.Notify(ctx, candidateID, notice(NoticeSOSUserConnecting))
		e.notifier.Notify(ctx, operatorID, notice(NoticeConnected))
		e.notifier.Notify(ctx, candidateID, notice(NoticeConnected))
		e.publish(ctx, models.Event{
			Type:      models.EventEscalationAccepted,
			UserID:    candidateID,
			PartnerID: operatorID,
			SessionID: session.ID,
			QueueLen:  e.Len(),
			At:        time.Now(),
		})
		return res, nil
	}
}

// releaseOperator ends the operator's current session, if any.
func (e *EscalationQueue) releaseOperator(ctx context.Context, operatorID int64) error {
	op, err := e.users.GetUser(ctx, operatorID)
	if err != nil {
		return err
	}
	if op == nil {
		return ErrUnknownUser
	}
	if !op.IsChatting() {
		return nil
	}
	_, err = e.sessions.EndSession(ctx, operatorID, op.Partner(), operatorID, false)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// Snapshot returns the queued ids, oldest first.
func (e *EscalationQueue) Snapshot() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.order...)
}

// Len returns the number of outstanding requests.
func (e *EscalationQueue) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

// Reset empties the queue and its mirror.
func (e *EscalationQueue) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.order = nil
	metrics.EscalationQueueSize.Set(0)
	e.mu.Unlock()
	return e.mirror.MirrorQueueReset(ctx, storage.QueueSOS)
}

func (e *EscalationQueue) pop() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.order) == 0 {
		return 0, false
	}
	id := e.order[0]
	e.order = e.order[1:]
	metrics.EscalationQueueSize.Set(float64(len(e.order)))
	return id, true
}

func (e *EscalationQueue) pushFront(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append([]int64{userID}, e.order...)
	metrics.EscalationQueueSize.Set(float64(len(e.order)))
}

func (e *EscalationQueue) contains(userID int64) bool {
	for _, id := range e.order {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *EscalationQueue) publish(ctx context.Context, ev models.Event) {
	if err := e.events.PublishEvent(ctx, ev); err != nil {
		e.logger.Warn("publish event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
