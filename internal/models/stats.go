package models

import "time"

// Stats is the operator overview of the service.
type Stats struct {
	TotalUsers    int64 `json:"total_users"`
	ActiveToday   int64 `json:"active_today"`
	Banned        int64 `json:"banned"`
	Unreachable   int64 `json:"unreachable"`
	Chatting      int64 `json:"chatting"`
	TotalSessions int64 `json:"total_sessions"`
	TotalMessages int64 `json:"total_messages"`

	Waiting     int           `json:"waiting"`
	Escalations int           `json:"escalations"`
	Uptime      time.Duration `json:"uptime"`
}

// ChattingPairs returns the number of active sessions.
func (s Stats) ChattingPairs() int64 {
	return s.Chatting / 2
}
