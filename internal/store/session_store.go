package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/api2web/internal/models"
)

// Errors
var (
	ErrTokenGeneration = errors.New("failed to generate session token")
)

// SessionStore holds the sessions issued by a successful login.
//
// Implementations must be safe for concurrent use. Expired sessions are evicted
// lazily when they are validated, there is no background sweep.
type SessionStore interface {
	// Create issues a new session with a random token that expires after the store's TTL.
	Create(ctx context.Context) (*models.Session, error)

	// Validate reports whether the token belongs to a live session.
	// An expired session is deleted as a side effect.
	Validate(ctx context.Context, token string) bool

	// Revoke removes the session for token. Revoking an unknown token is a no-op.
	Revoke(ctx context.Context, token string)
}
