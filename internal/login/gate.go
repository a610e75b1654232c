package login

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
	"github.com/wolfeidau/api2web/internal/models"
	"github.com/wolfeidau/api2web/internal/store"
)

var (
	ErrRateLimited       = errors.New("too many login attempts")
	ErrInvalidCredential = errors.New("invalid passkey")
	ErrNotConfigured     = errors.New("passkey is not configured")
)

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "api2web_session"

// Mode selects how RequireAuth rejects an unauthenticated request.
type Mode int

const (
	// ModeRedirect sends browsers to the login page.
	ModeRedirect Mode = iota
	// ModeJSON answers API clients with a 401 error envelope instead of HTML.
	ModeJSON
)

// Config holds the gate settings.
type Config struct {
	// Passkey is the shared secret. Empty disables authentication entirely.
	Passkey string
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// CookieSecret keys the cookie signature, falling back to Passkey when empty.
	CookieSecret []byte
	// Secure marks the session cookie HTTPS only.
	Secure bool
}

// Gate decides whether a request carries a live session and manages login and logout.
type Gate struct {
	passkey    string
	cookieName string
	secure     bool

	codec    *CookieCodec
	sessions store.SessionStore
	attempts *AttemptLedger
}

// NewGate composes the cookie codec, session store and attempt ledger.
func NewGate(cfg Config, sessions store.SessionStore, attempts *AttemptLedger) *Gate {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	secret := cfg.CookieSecret
	if len(secret) == 0 {
		secret = []byte(cfg.Passkey)
	}
	if len(secret) == 0 {
		// auth is disabled, but never sign with an empty key
		secret = []byte(rand.Text())
	}

	return &Gate{
		passkey:    cfg.Passkey,
		cookieName: cookieName,
		secure:     cfg.Secure,
		codec:      NewCookieCodec(secret),
		sessions:   sessions,
		attempts:   attempts,
	}
}

// Enabled reports whether a passkey is configured. When it is not every request is allowed.
func (g *Gate) Enabled() bool {
	return g.passkey != ""
}

// IsAuthenticated reports whether r carries a correctly signed cookie for a live session.
func (g *Gate) IsAuthenticated(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}

	token, ok := g.tokenFromRequest(r)
	if !ok {
		return false
	}

	return g.sessions.Validate(r.Context(), token)
}

// RequireAuth is a middleware that protects routes by requiring a valid session.
func (g *Gate) RequireAuth(mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.IsAuthenticated(r) {
				next.ServeHTTP(w, r)
				return
			}

			log.Debug().Str("path", r.URL.Path).Msg("Missing or invalid session")

			if mode == ModeJSON {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", httpmiddleware.CodeUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
		})
	}
}

// Login checks the attempt ledger for clientID, then the passkey, and creates a session on success.
// A rate limited attempt is rejected before the passkey is looked at.
func (g *Gate) Login(ctx context.Context, passkey, clientID string) (*models.Session, error) {
	if !g.Enabled() {
		return nil, ErrNotConfigured
	}

	if !g.attempts.Allow(clientID) {
		return nil, ErrRateLimited
	}

	if subtle.ConstantTimeCompare([]byte(passkey), []byte(g.passkey)) != 1 {
		return nil, ErrInvalidCredential
	}

	session, err := g.sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout revokes the session named by the request cookie, if any, and always clears the cookie.
func (g *Gate) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := g.tokenFromRequest(r); ok {
		g.sessions.Revoke(r.Context(), token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // Max-Age=0
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetSessionCookie attaches the signed session token to the response.
func (g *Gate) SetSessionCookie(w http.ResponseWriter, session *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    g.codec.Encode(session.Token),
		Path:     "/",
		MaxAge:   int(session.ExpiresAt.Sub(session.CreatedAt) / time.Second),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CookieName returns the name of the session cookie.
func (g *Gate) CookieName() string {
	return g.cookieName
}

func (g *Gate) tokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return "", false
	}
	return g.codec.Decode(cookie.Value)
}
