package models

import "time"

// Session is the ephemeral pairing of two participants. It is not persisted
// on its own: it exists while both participants point to its ID.
type Session struct {
	ID           string
	Participants [2]int64
	CreatedAt    time.Time
}

// PartnerOf returns the other participant, or 0 if userID is not part of it.
func (s Session) PartnerOf(userID int64) int64 {
	switch userID {
	case s.Participants[0]:
		return s.Participants[1]
	case s.Participants[1]:
		return s.Participants[0]
	}
	return 0
}

// SessionSummary describes a past session between two participants.
type SessionSummary struct {
	SessionID string
	StartedAt time.Time
}
