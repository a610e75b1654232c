package commands

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func parseServe(t *testing.T, args ...string) (*ServeCmd, error) {
	t.Helper()
	var cli struct {
		Serve ServeCmd `cmd:""`
	}
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	_, err = parser.Parse(append([]string{"serve"}, args...))
	return &cli.Serve, err
}

func TestServeCmdDefaults(t *testing.T) {
	cmd, err := parseServe(t)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cmd.Host)
	require.Equal(t, 5174, cmd.Port)
	require.Equal(t, "proxy", cmd.Mode)
	require.Equal(t, "https://api.openai.com", cmd.UpstreamBase)
	require.Equal(t, "api2web_session", cmd.CookieName)
	require.Equal(t, "dist", cmd.StaticDir)
	require.Equal(t, 24*time.Hour, cmd.SessionTTL)
	require.Equal(t, 12, cmd.LoginMaxPerMin)
}

func TestServeCmdEnvironment(t *testing.T) {
	t.Setenv("APP_PASSKEY", "hunter2")
	t.Setenv("MODE", "mock")
	t.Setenv("VITE_OPENAI_API_KEY", "sk-vite")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LOGIN_MAX_PER_MIN", "3")

	cmd, err := parseServe(t)
	require.NoError(t, err)

	require.Equal(t, "hunter2", cmd.Passkey)
	require.Equal(t, "mock", cmd.Mode)
	require.Equal(t, "sk-vite", cmd.OpenAIAPIKey)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cmd.CORSAllowOrigins)
	require.Equal(t, 3, cmd.LoginMaxPerMin)
}

func TestServeCmdValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown mode", args: []string{"--mode", "bogus"}},
		{name: "relative upstream", args: []string{"--upstream-base", "api.openai.com"}},
		{name: "bad passthrough upstream", args: []string{"--mock-upstream", "ftp://mock"}},
		{name: "bad outbound proxy", args: []string{"--outbound-proxy", "::bad"}},
		{name: "zero ttl", args: []string{"--session-ttl", "0s"}},
		{name: "zero login limit", args: []string{"--login-max-per-min", "0"}},
		{name: "cert without key", args: []string{"--cert", "cert.pem"}},
		{name: "port out of range", args: []string{"--port", "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseServe(t, tt.args...)
			require.Error(t, err)
		})
	}

	t.Run("static mode ignores upstream", func(t *testing.T) {
		_, err := parseServe(t, "--mode", "static", "--upstream-base", "not a url")
		require.NoError(t, err)
	})
}

func TestBuildHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!doctype html>"), 0o600))

	cmd, err := parseServe(t, "--mode", "mock", "--static-dir", dir, "--passkey", "secret")
	require.NoError(t, err)

	h, err := cmd.buildHandler(zerolog.Nop())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfigureHTTPServer(t *testing.T) {
	srv := configureHTTPServer("127.0.0.1:0", http.NotFoundHandler())
	require.Zero(t, srv.WriteTimeout)
	require.NotZero(t, srv.ReadHeaderTimeout)
}
