package models

import "time"

// EventType names an operator-facing event.
type EventType string

const (
	EventEscalationQueued   EventType = "escalation_queued"
	EventEscalationAccepted EventType = "escalation_accepted"
	EventSessionStarted     EventType = "session_started"
	EventSessionEnded       EventType = "session_ended"
	EventUserBanned         EventType = "user_banned"
)

// Event is published to operator dashboards.
type Event struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	PartnerID int64     `json:"partner_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	QueueLen  int       `json:"queue_len,omitempty"`
	At        time.Time `json:"at"`
}
