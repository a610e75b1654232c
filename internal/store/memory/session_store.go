package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/wolfeidau/api2web/internal/models"
	"github.com/wolfeidau/api2web/internal/store"
)

const (
	// DefaultSessionTTL is used when NewSessionStore is given a non-positive TTL.
	DefaultSessionTTL = 24 * time.Hour

	tokenBytes = 32
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using in-memory storage.
// Sessions are lost on restart, clients simply log in again.
type SessionStore struct {
	mu sync.Mutex

	sessions map[string]*models.Session // token -> Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a new in-memory session store issuing sessions valid for ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionStore{
		sessions: make(map[string]*models.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the lifetime given to new sessions.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create generates a random token and stores it with expiry now + TTL.
func (s *SessionStore) Create(ctx context.Context) (*models.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &models.Session{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[token] = session

	// Clone to avoid external modifications
	clone := *session
	return &clone, nil
}

// Validate returns true if the token exists and has not expired, deleting it when it has.
func (s *SessionStore) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[token]
	if !exists {
		return false
	}

	if session.IsExpired(s.now()) {
		delete(s.sessions, token)
		return false
	}

	return true
}

// Revoke deletes a session by token (logout).
func (s *SessionStore) Revoke(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
}

// Len returns the number of stored sessions, including expired ones not yet evicted.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrTokenGeneration, err)
	}
	return base58.Encode(buf), nil
}
