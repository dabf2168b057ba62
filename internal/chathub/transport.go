package chathub

import (
	"anonchat/backend/internal/models"
	"context"
	"errors"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the user's current chat state (e.g. stop while Idle). Callers report it
	// as a benign no-op.
	ErrInvalidTransition = errors.New("invalid chat state transition")
	// ErrNotOperator is returned by operator-only operations.
	ErrNotOperator = errors.New("caller is not the operator")
	// ErrUnknownUser is returned when the user has never been admitted.
	ErrUnknownUser = errors.New("unknown user")
	// ErrBanned is returned when a banned user reaches a core operation.
	ErrBanned = errors.New("user is banned")
	// ErrNotModified marks an edit that the transport rejected because the
	// content did not change.
	ErrNotModified = errors.New("message is not modified")
)

// DeliveryStatus classifies the result of one transport call.
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	// Unreachable means the recipient refuses messages from the service,
	// usually because they blocked it.
	Unreachable
	// Transient covers every other failure, including unknown ones.
	Transient
)

func (s DeliveryStatus) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	default:
		return "transient"
	}
}

// Delivery is what the transport reports back for a send or an edit.
type Delivery struct {
	// MessageID is the id of the message created in the recipient's chat.
	MessageID int64
	Status    DeliveryStatus
	Err       error
}

// Notice is a system message addressed to one participant. Key selects the
// localized text and Args fill its placeholders.
type Notice struct {
	Key  string
	Args []any
	// ReportTarget, when set, asks the transport to attach a report action
	// against that participant.
	ReportTarget int64
}

// Transport delivers relayed content and notices to participants.
// Implementations never return Go errors: failures are classified into the
// returned Delivery.
type Transport interface {
	// Send delivers text or media, threading under msg.ReplyTo when set.
	Send(ctx context.Context, to int64, msg models.OutboundMessage) Delivery
	EditText(ctx context.Context, to, messageID int64, text string, entities []models.Entity) Delivery
	EditCaption(ctx context.Context, to, messageID int64, caption string, entities []models.Entity) Delivery
	Notify(ctx context.Context, to int64, n Notice) Delivery
}

// Notifier sends notices without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, to int64, n Notice)
}
