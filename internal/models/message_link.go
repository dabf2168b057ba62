package models

import "time"

// MessageRef addresses one message in one private chat.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// MessageLink maps a relayed message to its counterpart in the other chat.
// Links are insert-only and are stored in both directions.
type MessageLink struct {
	SourceChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	SourceMessageID int64 `gorm:"primaryKey;autoIncrement:false"`
	DestChatID      int64 `gorm:"not null;index:idx_message_links_dest"`
	DestMessageID   int64 `gorm:"not null;index:idx_message_links_dest"`
	CreatedAt       time.Time
}

// NewMessageLink links source to dest.
func NewMessageLink(source, dest MessageRef) *MessageLink {
	return &MessageLink{
		SourceChatID:    source.ChatID,
		SourceMessageID: source.MessageID,
		DestChatID:      dest.ChatID,
		DestMessageID:   dest.MessageID,
	}
}

// Source returns the keyed side of the link.
func (l *MessageLink) Source() MessageRef {
	return MessageRef{ChatID: l.SourceChatID, MessageID: l.SourceMessageID}
}

// Dest returns the resolved side of the link.
func (l *MessageLink) Dest() MessageRef {
	return MessageRef{ChatID: l.DestChatID, MessageID: l.DestMessageID}
}
