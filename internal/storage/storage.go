// Package storage is the persistence collaborator of the chat core. Schema,
// indexing, and connection lifecycle live here; the core only sees the
// interfaces below.
package storage

import (
	"anonchat/backend/internal/models"
	"context"
)

// Queue names used for the Redis mirrors of the in-memory queues.
const (
	QueueWaiting = "queue:waiting"
	QueueSOS     = "queue:sos"

	eventsChannel = "events:operator"
)

// UserDirectory holds one durable record per participant.
type UserDirectory interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// ChatArchive stores the chat log and the message link graph.
type ChatArchive interface {
	AppendChatLog(ctx context.Context, entry *models.ChatLog) error
	UpdateChatLogText(ctx context.Context, senderID, messageID int64, text string) error
	// InsertMessageLink is a no-op when the source key already exists.
	InsertMessageLink(ctx context.Context, link *models.MessageLink) error
	// LookupMessageLink returns nil, nil when no link exists.
	LookupMessageLink(ctx context.Context, source models.MessageRef) (*models.MessageRef, error)
}

// QueueMirror publishes queue membership for other processes (stats, CLI).
// The in-memory queues of the core stay authoritative.
type QueueMirror interface {
	MirrorQueueAdd(ctx context.Context, queue string, userID int64) error
	MirrorQueueRemove(ctx context.Context, queue string, userID int64) error
	MirrorQueueReset(ctx context.Context, queue string) error
}

// EventBus fans operator events out to dashboards.
type EventBus interface {
	PublishEvent(ctx context.Context, ev models.Event) error
	// SubscribeEvents delivers events until ctx is cancelled.
	SubscribeEvents(ctx context.Context) (<-chan models.Event, error)
}

// Storage is everything the service and the operator tooling need.
type Storage interface {
	UserDirectory
	ChatArchive
	QueueMirror
	EventBus

	// FindUserByUsername matches the handle without the leading '@'.
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	// ResetChatStatuses moves every Waiting or Chatting user to Idle.
	ResetChatStatuses(ctx context.Context) (int64, error)

	SaveReport(ctx context.Context, report *models.Report) error
	ListReports(ctx context.Context, status models.ReportStatus) ([]models.Report, error)

	GetStats(ctx context.Context) (*models.Stats, error)
	ChatPartners(ctx context.Context, userID int64) ([]int64, error)
	ListSessions(ctx context.Context, userA, userB int64) ([]models.SessionSummary, error)
	SessionLog(ctx context.Context, sessionID string) ([]models.ChatLog, error)
	// ClearHistory deletes every chat log and message link.
	ClearHistory(ctx context.Context) error
}
