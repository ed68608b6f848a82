package session

import (
	"time"

	"github.com/google/uuid"

	"formpilot/internal/store"
)

// SessionIDFromString maps a free-text conversation name to its UUID. The
// mapping is deterministic; the empty string is rejected.
func SessionIDFromString(s string) (uuid.UUID, error) {
	return store.UUIDFromString(s)
}

// ParseSessionID accepts a UUID, or any other non-empty string through
// SessionIDFromString.
func ParseSessionID(s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	return SessionIDFromString(s)
}

// MessageID is the name-based (SHA-1, version 5) UUID of a turn's
// timestamp within its conversation.
func MessageID(sessionID uuid.UUID, at time.Time) uuid.UUID {
	return uuid.NewSHA1(sessionID, []byte(at.UTC().Format(time.RFC3339Nano)))
}
