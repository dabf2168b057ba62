// Package moderation tracks forbidden-script violations per chat session and
// turns them into warnings and bans when the session ends.
package moderation

import (
	"anonchat/backend/internal/config"
	"strings"
)

// ContainsForbidden reports whether text contains any character outside
// the Belarusian alphabet that the chat rules forbid. The match is on raw
// text, without normalization.
func ContainsForbidden(text string) bool {
	return strings.ContainsAny(text, config.ForbiddenChars)
}
