package models

import (
	"time"
)

// Session represents an authenticated browser session.
// Only the token travels to the client (signed, in a cookie); the expiry lives server-side.
type Session struct {
	Token string // opaque, base58 encoded random bytes

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired returns true if the session has expired at the given instant.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
