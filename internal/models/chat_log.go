package models

import "time"

// ChatLog is the audit record of one relayed message.
type ChatLog struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"type:text;not null;index"`
	CreatedAt time.Time `gorm:"index"`
	SenderID  int64     `gorm:"not null;index"`
	PartnerID int64     `gorm:"not null;index"`
	MessageID int64     `gorm:"not null"`
	Kind      MediaKind `gorm:"type:text;not null"`
	Text      string    `gorm:"type:text"`
	FileID    string    `gorm:"type:text"`
}

// NewChatLog builds the log entry for msg sent by sender to partner.
func NewChatLog(sessionID string, sender, partner int64, msg InboundMessage) *ChatLog {
	return &ChatLog{
		SessionID: sessionID,
		SenderID:  sender,
		PartnerID: partner,
		MessageID: msg.ID,
		Kind:      msg.Kind,
		Text:      msg.Content(),
		FileID:    msg.FileID,
	}
}
