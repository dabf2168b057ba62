package chathub

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// RelayOutcome classifies one relayInbound call.
type RelayOutcome int

const (
	OutcomeDelivered RelayOutcome = iota
	OutcomeRecipientUnreachable
	OutcomeTransient
	// OutcomeNoSession means the sender had no active session and the
	// message was dropped.
	OutcomeNoSession
)

func (o RelayOutcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRecipientUnreachable:
		return "unreachable"
	case OutcomeTransient:
		return "transient"
	default:
		return "no_session"
	}
}

// MessageRelay forwards content between session partners.
type MessageRelay struct {
	users     storage.UserDirectory
	archive   storage.ChatArchive
	links     *MessageLinkGraph
	engine    *moderation.Engine
	sessions  *SessionRegistry
	transport Transport
	notifier  Notifier
	locks     *userLocks
	logger    *zap.Logger
}

// NewMessageRelay creates the relay.
func NewMessageRelay(s storage.Storage, links *MessageLinkGraph, engine *moderation.Engine, sessions *SessionRegistry,
	t Transport, n Notifier, locks *userLocks, logger *zap.Logger) *MessageRelay {
	return &MessageRelay{
		users:     s,
		archive:   s,
		links:     links,
		engine:    engine,
		sessions:  sessions,
		transport: t,
		notifier:  n,
		locks:     locks,
		logger:    logger,
	}
}

// RelayInbound logs, scans and forwards msg from senderID to the partner.
func (r *MessageRelay) RelayInbound(ctx context.Context, senderID int64, msg models.InboundMessage) (RelayOutcome, error) {
	outcome, err := r.relay(ctx, senderID, msg)
	if err == nil {
		metrics.RelayedTotal.WithLabelValues(outcome.String()).Inc()
	}
	return outcome, err
}

func (r *MessageRelay) relay(ctx context.Context, senderID int64, msg models.InboundMessage) (RelayOutcome, error) {
	partnerID, sessionID, err := r.record(ctx, senderID, msg)
	if err != nil || sessionID == "" {
		return OutcomeNoSession, err
	}

	out := models.OutboundMessage{
		Kind:     msg.Kind,
		Text:     msg.Text,
		FileID:   msg.FileID,
		Caption:  msg.Caption,
		Entities: msg.Entities,
		ReplyTo:  r.resolveReply(ctx, senderID, partnerID, msg.ReplyToID),
		CopyFrom: models.MessageRef{ChatID: senderID, MessageID: msg.ID},
	}

	d := r.transport.Send(ctx, partnerID, out)
	switch d.Status {
	case Delivered:
		source := models.MessageRef{ChatID: senderID, MessageID: msg.ID}
		dest := models.MessageRef{ChatID: partnerID, MessageID: d.MessageID}
		if err := r.links.Link(ctx, source, dest); err != nil {
			r.logger.Error("message link insert failed", zap.Int64("user_id", senderID), zap.Error(err))
		}
		return OutcomeDelivered, nil

	case Unreachable:
		r.logger.Info("relay recipient unreachable", zap.Int64("from", senderID), zap.Int64("to", partnerID))
		if err := r.markUnreachable(ctx, partnerID); err != nil {
			return OutcomeRecipientUnreachable, err
		}
		_, err := r.sessions.EndSession(ctx, senderID, partnerID, senderID, false)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return OutcomeRecipientUnreachable, err
		}
		r.notifier.Notify(ctx, senderID, notice(NoticeUndeliverable))
		return OutcomeRecipientUnreachable, nil

	default:
		r.logger.Warn("relay delivery failed",
			zap.Int64("from", senderID), zap.Int64("to", partnerID),
			zap.String("kind", string(msg.Kind)), zap.Error(d.Err))
		return OutcomeTransient, nil
	}
}

// record resolves the sender's session, appends msg to its log and raises
// the moderation flag. It holds the sender's lock so a concurrent teardown
// either precedes it (no session) or consumes the flag it raises. An empty
// session id means the sender is not chatting.
func (r *MessageRelay) record(ctx context.Context, senderID int64, msg models.InboundMessage) (int64, string, error) {
	unlock := r.locks.lock(senderID)
	defer unlock()

	sender, err := r.users.GetUser(ctx, senderID)
	if err != nil {
		return 0, "", err
	}
	if sender == nil || !sender.IsChatting() {
		return 0, "", nil
	}
	partnerID, sessionID := sender.Partner(), sender.Session()

	if err := r.archive.AppendChatLog(ctx, models.NewChatLog(sessionID, senderID, partnerID, msg)); err != nil {
		return 0, "", fmt.Errorf("append chat log: %w", err)
	}

	if msg.Kind == models.KindText && moderation.ContainsForbidden(msg.Text) {
		metrics.ViolationsTotal.Inc()
		if r.engine.Flag(sessionID, senderID) {
			r.logger.Debug("moderation flag raised", zap.Int64("user_id", senderID), zap.String("session_id", sessionID))
		}
	}
	return partnerID, sessionID, nil
}

// resolveReply maps the replied-to message into the partner's chat. It
// returns 0 when the reply cannot be threaded, in which case the message is
// forwarded without a reply.
func (r *MessageRelay) resolveReply(ctx context.Context, senderID, partnerID, replyToID int64) int64 {
	if replyToID == 0 {
		return 0
	}
	dest, err := r.links.Resolve(ctx, models.MessageRef{ChatID: senderID, MessageID: replyToID})
	if err != nil {
		r.logger.Warn("reply link lookup failed", zap.Int64("user_id", senderID), zap.Error(err))
		return 0
	}
	if dest == nil || dest.ChatID != partnerID {
		return 0
	}
	return dest.MessageID
}

// RelayEdit applies an edit of a relayed message to its counterpart.
// Edits without a counterpart in the current partner's chat are dropped.
func (r *MessageRelay) RelayEdit(ctx context.Context, senderID int64, msg models.InboundMessage) error {
	sender, err := r.users.GetUser(ctx, senderID)
	if err != nil {
		return err
	}
	if sender == nil || !sender.IsChatting() {
		return nil
	}

	dest, err := r.links.Resolve(ctx, models.MessageRef{ChatID: senderID, MessageID: msg.ID})
	if err != nil {
		return fmt.Errorf("resolve edited message: %w", err)
	}
	if dest == nil || dest.ChatID != sender.Partner() {
		return nil
	}

	var d Delivery
	switch {
	case msg.Kind == models.KindText:
		d = r.transport.EditText(ctx, dest.ChatID, dest.MessageID, msg.Text, msg.Entities)
	case msg.Kind.HasCaption():
		d = r.transport.EditCaption(ctx, dest.ChatID, dest.MessageID, msg.Caption, msg.Entities)
	default:
		return nil
	}

	if d.Status != Delivered {
		if errors.Is(d.Err, ErrNotModified) {
			return nil
		}
		r.logger.Warn("edit propagation failed",
			zap.Int64("from", senderID), zap.Int64("to", dest.ChatID), zap.Error(d.Err))
		return nil
	}

	metrics.EditsTotal.Inc()
	if err := r.archive.UpdateChatLogText(ctx, senderID, msg.ID, msg.Content()); err != nil {
		return fmt.Errorf("update chat log: %w", err)
	}
	return nil
}

func (r *MessageRelay) markUnreachable(ctx context.Context, userID int64) error {
	unlock := r.locks.lock(userID)
	defer unlock()

	user, err := r.users.GetUser(ctx, userID)
	if err != nil || user == nil || user.Unreachable {
		return err
	}
	user.Unreachable = true
	return r.users.UpsertUser(ctx, user)
}
