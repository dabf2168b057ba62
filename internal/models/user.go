package models

import (
	"strconv"
	"time"
)

// ChatStatus is the position of a participant in the chat state machine.
type ChatStatus string

const (
	StatusIdle     ChatStatus = "idle"
	StatusWaiting  ChatStatus = "waiting"
	StatusChatting ChatStatus = "chatting"
)

// User is the durable record of a participant. The ID is the participant's
// Telegram user id, which is also the id of the private chat with the bot.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	FirstName string `json:"first_name"`
	Username  string `gorm:"index" json:"username"`

	ChatStatus ChatStatus `gorm:"type:text;not null;default:idle;index" json:"chat_status"`
	PartnerID  *int64     `json:"partner_id,omitempty"`
	SessionID  *string    `gorm:"index" json:"session_id,omitempty"`

	Warnings int  `gorm:"not null;default:0" json:"warnings"`
	Banned   bool `gorm:"not null;default:false" json:"banned"`
	// Unreachable is set when a delivery to the user was refused, which
	// usually means the user blocked the bot.
	Unreachable bool `gorm:"not null;default:false" json:"unreachable"`

	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// IsChatting reports whether the user is bound to a partner and a session.
func (u *User) IsChatting() bool {
	return u.ChatStatus == StatusChatting && u.PartnerID != nil && u.SessionID != nil
}

// Partner returns the partner id, or 0 when there is none.
func (u *User) Partner() int64 {
	if u.PartnerID == nil {
		return 0
	}
	return *u.PartnerID
}

// Session returns the session id, or "" when there is none.
func (u *User) Session() string {
	if u.SessionID == nil {
		return ""
	}
	return *u.SessionID
}

// BindTo moves the user into a chat with partner under sessionID.
func (u *User) BindTo(partner int64, sessionID string) {
	u.ChatStatus = StatusChatting
	u.PartnerID = &partner
	u.SessionID = &sessionID
}

// ResetChat returns the user to Idle and clears the pairing fields.
func (u *User) ResetChat() {
	u.ChatStatus = StatusIdle
	u.PartnerID = nil
	u.SessionID = nil
}

// Consistent reports whether partner and session are set exactly when the
// user is chatting.
func (u *User) Consistent() bool {
	paired := u.PartnerID != nil && u.SessionID != nil
	unpaired := u.PartnerID == nil && u.SessionID == nil
	if u.ChatStatus == StatusChatting {
		return paired
	}
	return unpaired
}

// DisplayName returns the first name, falling back to a generic label.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return "User " + strconv.FormatInt(u.ID, 10)
}
