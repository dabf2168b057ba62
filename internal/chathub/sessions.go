package chathub

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var errPartnerChanged = errors.New("partner changed")

// Teardown describes a finished session.
type Teardown struct {
	SessionID   string
	UserID      int64
	PartnerID   int64
	InitiatorID int64
	// PartnerReset is false when the partner record was missing or no
	// longer pointed at the session; only the user was reset then.
	PartnerReset bool
	Verdicts     map[int64]moderation.Verdict
}

// SessionRegistry owns the Chatting -> Idle transition.
type SessionRegistry struct {
	users      storage.UserDirectory
	events     storage.EventBus
	engine     *moderation.Engine
	locks      *userLocks
	notifier   Notifier
	operatorID int64
	logger     *zap.Logger
}

// NewSessionRegistry creates the registry.
func NewSessionRegistry(s storage.Storage, engine *moderation.Engine, locks *userLocks, n Notifier, operatorID int64, logger *zap.Logger) *SessionRegistry {
	return &SessionRegistry{
		users:      s,
		events:     s,
		engine:     engine,
		locks:      locks,
		notifier:   n,
		operatorID: operatorID,
		logger:     logger,
	}
}

// EndSession tears down the session of userID. When partnerID is 0 it is
// resolved from the user record; otherwise the session must still be with
// partnerID. Moderation flags of both sides are finalized before the reset,
// and every notice is sent after both records are committed.
func (r *SessionRegistry) EndSession(ctx context.Context, userID, partnerID, initiatorID int64, reSearch bool) (*Teardown, error) {
	var (
		td  *Teardown
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		hint := partnerID
		if hint == 0 {
			user, err := r.users.GetUser(ctx, userID)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return nil, ErrUnknownUser
			}
			if !user.IsChatting() {
				return nil, ErrInvalidTransition
			}
			hint = user.Partner()
		}

		td, err = r.teardown(ctx, userID, hint, initiatorID)
		if errors.Is(err, errPartnerChanged) {
			if partnerID != 0 {
				return nil, ErrInvalidTransition
			}
			continue
		}
		break
	}
	if errors.Is(err, errPartnerChanged) {
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	r.afterTeardown(ctx, td, reSearch)
	return td, nil
}

func (r *SessionRegistry) teardown(ctx context.Context, userID, partnerID, initiatorID int64) (*Teardown, error) {
	unlock := r.locks.lock(userID, partnerID)
	defer unlock()

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	if !user.IsChatting() {
		return nil, ErrInvalidTransition
	}
	if user.Partner() != partnerID {
		return nil, errPartnerChanged
	}

	sessionID := user.Session()
	partner, err := r.users.GetUser(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	partnerValid := partner != nil && partner.IsChatting() &&
		partner.Partner() == userID && partner.Session() == sessionID

	td := &Teardown{
		SessionID:    sessionID,
		UserID:       userID,
		PartnerID:    partnerID,
		InitiatorID:  initiatorID,
		PartnerReset: partnerValid,
		Verdicts:     make(map[int64]moderation.Verdict, 2),
	}

	td.Verdicts[userID] = r.engine.Finalize(sessionID, user)
	user.ResetChat()
	if err := r.users.UpsertUser(ctx, user); err != nil {
		return nil, err
	}

	if partner != nil {
		verdict := r.engine.Finalize(sessionID, partner)
		td.Verdicts[partnerID] = verdict
		if partnerValid {
			partner.ResetChat()
		}
		if partnerValid || verdict.Kind != moderation.VerdictNone {
			if err := r.users.UpsertUser(ctx, partner); err != nil {
				return nil, err
			}
		}
	}
	return td, nil
}

func (r *SessionRegistry) afterTeardown(ctx context.Context, td *Teardown, reSearch bool) {
	metrics.ActiveSessions.Dec()
	r.logger.Info("session ended",
		zap.String("session_id", td.SessionID),
		zap.Int64("initiator", td.InitiatorID),
		zap.Bool("partner_reset", td.PartnerReset),
		zap.Bool("re_search", reSearch))
	r.publish(ctx, models.Event{
		Type:      models.EventSessionEnded,
		UserID:    td.UserID,
		PartnerID: td.PartnerID,
		SessionID: td.SessionID,
		At:        time.Now(),
	})

	for _, id := range []int64{td.UserID, td.PartnerID} {
		if v, ok := td.Verdicts[id]; ok {
			r.notifyVerdict(ctx, id, v)
		}
	}

	if !td.PartnerReset {
		if !reSearch {
			r.notifier.Notify(ctx, td.UserID, notice(NoticeLeft))
		}
		return
	}

	if reSearch {
		other := td.PartnerID
		if td.InitiatorID == td.PartnerID {
			other = td.UserID
		}
		r.notifier.Notify(ctx, other, notice(NoticePartnerMovedOn))
		return
	}

	for _, pair := range [][2]int64{{td.UserID, td.PartnerID}, {td.PartnerID, td.UserID}} {
		self, other := pair[0], pair[1]
		key := NoticeEndedPartner
		if self == td.InitiatorID {
			key = NoticeEndedSelf
		}
		r.notifier.Notify(ctx, self, notice(key))
		if other != r.operatorID {
			r.notifier.Notify(ctx, self, Notice{Key: NoticeReportPrompt, ReportTarget: other})
		}
	}
}

func (r *SessionRegistry) notifyVerdict(ctx context.Context, userID int64, v moderation.Verdict) {
	switch v.Kind {
	case moderation.VerdictWarned:
		metrics.ModerationActionsTotal.WithLabelValues("warning").Inc()
		r.notifier.Notify(ctx, userID, notice(NoticeWarning, v.Warnings, v.Limit))
	case moderation.VerdictBanned:
		metrics.ModerationActionsTotal.WithLabelValues("ban").Inc()
		r.logger.Info("user banned", zap.Int64("user_id", userID), zap.Int("warnings", v.Warnings))
		r.notifier.Notify(ctx, userID, notice(NoticeBanned, v.Warnings, v.Limit))
		r.publish(ctx, models.Event{Type: models.EventUserBanned, UserID: userID, At: time.Now()})
	}
}

func (r *SessionRegistry) publish(ctx context.Context, ev models.Event) {
	if err := r.events.PublishEvent(ctx, ev); err != nil {
		r.logger.Warn("publish event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
