package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/api2web/internal/login"
	"github.com/wolfeidau/api2web/internal/mock"
	"github.com/wolfeidau/api2web/internal/proxy"
	"github.com/wolfeidau/api2web/internal/store/memory"
	"github.com/wolfeidau/api2web/internal/website"
)

const (
	testPasskey = "correct"
	testIndex   = "<!doctype html><title>app</title>"
)

var largeScript = strings.Repeat("console.log('hello from the bundle');\n", 100)

func newTestStatic(t *testing.T) *website.Static {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte(testIndex), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "app.js"), []byte(largeScript), 0o600))

	st, err := website.NewStatic(root)
	require.NoError(t, err)
	return st
}

func newTestGate(passkey string) *login.Gate {
	return login.NewGate(
		login.Config{Passkey: passkey},
		memory.NewSessionStore(time.Hour),
		login.NewAttemptLedger(login.DefaultMaxAttempts, login.DefaultAttemptWindow),
	)
}

func newTestHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Gate == nil {
		cfg.Gate = newTestGate(testPasskey)
	}
	if cfg.Static == nil {
		cfg.Static = newTestStatic(t)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStatic
	}
	cfg.Logger = zerolog.Nop()

	srv, err := New(cfg)
	require.NoError(t, err)
	return srv.Handler()
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func loginCookie(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"passkey":"correct"}`))
	r.Header.Set("Content-Type", "application/json")
	w := serve(h, r)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func get(h http.Handler, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	return serve(h, r)
}

func TestNew(t *testing.T) {
	gate := newTestGate(testPasskey)
	static := http.NotFoundHandler()

	_, err := New(Config{Mode: ModeStatic, Static: static})
	require.ErrorIs(t, err, ErrMissingGate)

	_, err = New(Config{Mode: ModeStatic, Gate: gate})
	require.ErrorIs(t, err, ErrMissingStatic)

	_, err = New(Config{Mode: ModeProxy, Gate: gate, Static: static})
	require.ErrorIs(t, err, ErrMissingUpstream)

	_, err = New(Config{Mode: "bogus", Gate: gate, Static: static})
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Config{})

	w := get(h, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestStaticRoutes(t *testing.T) {
	h := newTestHandler(t, Config{})

	t.Run("redirects without a session", func(t *testing.T) {
		w := get(h, "/", nil)
		require.Equal(t, http.StatusFound, w.Code)
		require.Equal(t, "/login", w.Header().Get("Location"))
	})

	t.Run("login page", func(t *testing.T) {
		w := get(h, "/login", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	})

	cookie := loginCookie(t, h)

	t.Run("index after login", func(t *testing.T) {
		w := get(h, "/", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Header().Get("Content-Type"), "text/html")
		require.Equal(t, testIndex, w.Body.String())
	})

	t.Run("spa fallback", func(t *testing.T) {
		w := get(h, "/chat/42", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, testIndex, w.Body.String())
	})

	t.Run("asset", func(t *testing.T) {
		w := get(h, "/assets/app.js", cookie)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Header().Get("Content-Type"), "javascript")
		require.Equal(t, largeScript, w.Body.String())
	})

	t.Run("gzip", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
		r.AddCookie(cookie)
		r.Header.Set("Accept-Encoding", "gzip")
		w := serve(h, r)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		require.Less(t, w.Body.Len(), len(largeScript))
	})

	t.Run("login page redirects when authenticated", func(t *testing.T) {
		w := get(h, "/login", cookie)
		require.Equal(t, http.StatusFound, w.Code)
		require.Equal(t, "/", w.Header().Get("Location"))
	})
}

func TestLogout(t *testing.T) {
	h := newTestHandler(t, Config{})
	cookie := loginCookie(t, h)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(cookie)
	w := serve(h, r)
	require.Equal(t, http.StatusOK, w.Code)

	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Equal(t, -1, cleared[0].MaxAge)

	w = get(h, "/", cookie)
	require.Equal(t, http.StatusFound, w.Code)
}

func TestLoginRejectsCrossSitePost(t *testing.T) {
	h := newTestHandler(t, Config{})

	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"passkey":"correct"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Sec-Fetch-Site", "cross-site")
	w := serve(h, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, w.Result().Cookies())
}

func TestAPIRequiresSession(t *testing.T) {
	h := newTestHandler(t, Config{})

	w := get(h, "/v1/models", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":{"message":"unauthorized","code":"unauthorized"}}`, w.Body.String())

	w = get(h, "/v1/models", &http.Cookie{Name: login.DefaultCookieName, Value: "forged.c2lnbmF0dXJl"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStaticModeHasNoAPI(t *testing.T) {
	h := newTestHandler(t, Config{Mode: ModeStatic})
	cookie := loginCookie(t, h)

	w := get(h, "/v1/models", cookie)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":{"message":"not found","code":"not_found"}}`, w.Body.String())
}

func TestProxyMode(t *testing.T) {
	var auth, cookieHeader, path string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		cookieHeader = r.Header.Get("Cookie")
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
	}))
	defer upstream.Close()

	p, err := proxy.New(proxy.Config{
		Name:          "v1",
		BaseURL:       upstream.URL + "/openai",
		APIKey:        "sk-test",
		SessionCookie: login.DefaultCookieName,
	})
	require.NoError(t, err)

	h := newTestHandler(t, Config{Mode: ModeProxy, Upstream: p})
	cookie := loginCookie(t, h)

	w := get(h, "/v1/models", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"object":"list","data":[]}`, w.Body.String())
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "/openai/v1/models", path)
	require.Empty(t, cookieHeader)
}

func TestMockMode(t *testing.T) {
	m, err := mock.New(mock.Config{})
	require.NoError(t, err)

	h := newTestHandler(t, Config{Mode: ModeMock, Upstream: m})
	cookie := loginCookie(t, h)

	w := get(h, "/v1/models", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"object":"list"`)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	r.AddCookie(cookie)
	w = serve(h, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Default mock answer from mocked API")
}

func TestPassthrough(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newTestHandler(t, Config{})
		cookie := loginCookie(t, h)

		w := get(h, "/proxy/v1/models", cookie)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.Contains(t, w.Body.String(), `"code":"passthrough_not_configured"`)
	})

	t.Run("forwards client auth", func(t *testing.T) {
		var auth, path string
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			path = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}))
		defer upstream.Close()

		p, err := proxy.New(proxy.Config{
			Name:              "passthrough",
			BaseURL:           upstream.URL,
			ForwardClientAuth: true,
			StripPrefix:       "/proxy",
			SessionCookie:     login.DefaultCookieName,
		})
		require.NoError(t, err)

		h := newTestHandler(t, Config{Passthrough: p})
		cookie := loginCookie(t, h)

		r := httptest.NewRequest(http.MethodGet, "/proxy/v1/models", nil)
		r.AddCookie(cookie)
		r.Header.Set("Authorization", "Bearer caller")
		w := serve(h, r)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "Bearer caller", auth)
		require.Equal(t, "/v1/models", path)
	})
}

func TestAuthDisabled(t *testing.T) {
	h := newTestHandler(t, Config{Gate: newTestGate("")})

	w := get(h, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, testIndex, w.Body.String())

	w = get(h, "/v1/models", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{CORS: CORSConfig{AllowedOrigins: []string{"https://app.example"}, AllowCredentials: true}})

	r := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(h, r)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecoversFromPanic(t *testing.T) {
	h := newTestHandler(t, Config{
		Mode: ModeMock,
		Upstream: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	})
	cookie := loginCookie(t, h)

	w := get(h, "/v1/models", cookie)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":{"message":"internal server error","code":"internal_error"}}`, w.Body.String())
	require.NotContains(t, w.Body.String(), "boom")
}
