package moderation

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"sync"
)

// VerdictKind is the outcome of finalizing one participant's session.
type VerdictKind int

const (
	VerdictNone VerdictKind = iota
	VerdictWarned
	VerdictBanned
)

// Verdict describes what Finalize did to the user record.
type Verdict struct {
	Kind     VerdictKind
	Warnings int
	Limit    int
}

type flagKey struct {
	sessionID string
	userID    int64
}

// Engine holds the pending violation flags. A flag is raised at most once
// per (session, user) and consumed exactly once by Finalize.
type Engine struct {
	mu    sync.Mutex
	flags map[flagKey]struct{}
	limit int
}

// NewEngine returns an Engine that bans at config.WarningLimit warnings.
func NewEngine() *Engine {
	return &Engine{
		flags: make(map[flagKey]struct{}),
		limit: config.WarningLimit,
	}
}

// Flag marks userID as having violated the rules in sessionID. It returns
// true only for the first violation of the session.
func (e *Engine) Flag(sessionID string, userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := flagKey{sessionID, userID}
	if _, ok := e.flags[key]; ok {
		return false
	}
	e.flags[key] = struct{}{}
	return true
}

// Pending reports whether a flag is waiting for Finalize.
func (e *Engine) Pending(sessionID string, userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.flags[flagKey{sessionID, userID}]
	return ok
}

// Finalize consumes the flag of user for sessionID and applies it to the
// record. The caller owns the record and persists it.
func (e *Engine) Finalize(sessionID string, user *models.User) Verdict {
	e.mu.Lock()
	key := flagKey{sessionID, user.ID}
	_, flagged := e.flags[key]
	delete(e.flags, key)
	e.mu.Unlock()

	if !flagged {
		return Verdict{Kind: VerdictNone, Warnings: user.Warnings, Limit: e.limit}
	}

	user.Warnings++
	if user.Warnings >= e.limit {
		user.Banned = true
		return Verdict{Kind: VerdictBanned, Warnings: user.Warnings, Limit: e.limit}
	}
	return Verdict{Kind: VerdictWarned, Warnings: user.Warnings, Limit: e.limit}
}

// HandleAmnesty lifts the ban of user when phrase is the amnesty phrase.
// It has no effect on users that are not banned.
func HandleAmnesty(user *models.User, phrase string) bool {
	if !user.Banned || phrase != config.AmnestyPhrase {
		return false
	}
	user.Banned = false
	user.Warnings = 0
	return true
}
