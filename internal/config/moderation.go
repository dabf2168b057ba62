package config

const (
	// Moderation
	WarningLimit  = 3
	AmnestyPhrase = "АДРАДЖЭННЕ"

	// ForbiddenChars are letters outside the Belarusian alphabet.
	ForbiddenChars = "иИщЩъЪ"

	// Sessions
	SessionIDPrefix = "session_"
	SessionIDLength = 12

	// DefaultHandle is stored when a participant has no public username.
	DefaultHandle = "няма"
)
