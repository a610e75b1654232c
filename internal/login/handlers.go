package login

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
	"github.com/wolfeidau/api2web/internal/telemetry"
)

const maxLoginBody = 16 * 1024

type loginRequest struct {
	Passkey string `json:"passkey"`
}

// LoginPageHandler renders the passkey form, or redirects home when the request is already authenticated.
func (g *Gate) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	if !g.Enabled() {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(disabledPage))
		return
	}

	if g.IsAuthenticated(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(loginPage))
}

// LoginHandler accepts {"passkey": "..."} and sets the session cookie on success.
func (g *Gate) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	metrics := telemetry.GetMetrics()

	clientID := httpmiddleware.ClientIPFromContext(ctx)
	if clientID == "" {
		clientID = httpmiddleware.ExtractClientIP(r, false)
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		logger.Debug().Err(err).Msg("Unreadable login body, treating as empty passkey")
		req.Passkey = ""
	}

	session, err := g.Login(ctx, strings.TrimSpace(req.Passkey), clientID)
	switch {
	case errors.Is(err, ErrNotConfigured):
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "APP_PASSKEY is not set", httpmiddleware.CodeNotConfigured)
		return
	case errors.Is(err, ErrRateLimited):
		logger.Warn().Str("client", clientID).Msg("Login rate limited")
		metrics.RecordLogin(ctx, "rate_limited")
		httpmiddleware.WriteError(w, http.StatusTooManyRequests, "too many attempts, try again later", httpmiddleware.CodeRateLimited)
		return
	case errors.Is(err, ErrInvalidCredential):
		logger.Info().Str("client", clientID).Msg("Login rejected, invalid passkey")
		metrics.RecordLogin(ctx, "invalid")
		httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid passkey", httpmiddleware.CodeInvalidPasskey)
		return
	case err != nil:
		logger.Error().Err(err).Msg("Login failed")
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error", httpmiddleware.CodeInternal)
		return
	}

	logger.Info().Str("client", clientID).Msg("Login succeeded")
	metrics.RecordLogin(ctx, "ok")

	g.SetSessionCookie(w, session)
	httpmiddleware.WriteOK(w)
}

// LogoutHandler revokes the current session and clears the cookie. It always succeeds.
func (g *Gate) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	g.Logout(w, r)
	httpmiddleware.WriteOK(w)
}
