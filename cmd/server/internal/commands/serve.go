package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wolfeidau/api2web/internal/client"
	"github.com/wolfeidau/api2web/internal/logger"
	"github.com/wolfeidau/api2web/internal/login"
	"github.com/wolfeidau/api2web/internal/mock"
	"github.com/wolfeidau/api2web/internal/proxy"
	"github.com/wolfeidau/api2web/internal/server"
	"github.com/wolfeidau/api2web/internal/store/memory"
	"github.com/wolfeidau/api2web/internal/telemetry"
	"github.com/wolfeidau/api2web/internal/website"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	// Server configuration
	Host string `help:"HTTP server listen host" default:"0.0.0.0" env:"HOST"`
	Port int    `help:"HTTP server listen port" default:"5174" env:"PORT"`
	Cert string `help:"path to TLS cert file" default:"" env:"TLS_CERT"`
	Key  string `help:"path to TLS key file" default:"" env:"TLS_KEY"`

	// Authentication
	Passkey        string        `help:"shared passkey, authentication is disabled when empty" default:"" env:"APP_PASSKEY"`
	CookieName     string        `help:"session cookie name" default:"api2web_session" env:"SESSION_COOKIE_NAME"`
	SessionSecret  string        `help:"secret used to sign session cookies, defaults to the passkey" default:"" env:"SESSION_SECRET"`
	SessionTTL     time.Duration `help:"session TTL" default:"24h" env:"SESSION_TTL"`
	LoginMaxPerMin int           `help:"login attempts allowed per client per minute" default:"12" env:"LOGIN_MAX_PER_MIN"`
	HTTPSOnly      bool          `help:"mark the session cookie Secure" default:"false" env:"HTTPS_ONLY"`

	// Upstream
	Mode          string `help:"what answers /v1 (proxy, static or mock)" default:"proxy" env:"MODE" enum:"proxy,static,mock"`
	UpstreamBase  string `help:"OpenAI compatible upstream base URL" default:"https://api.openai.com" env:"UPSTREAM_BASE"`
	OpenAIAPIKey  string `help:"upstream API key" default:"" env:"OPENAI_API_KEY,VITE_OPENAI_API_KEY"`
	OutboundProxy string `help:"HTTP proxy for upstream calls, the environment is used when empty" default:"" env:"OUTBOUND_PROXY"`
	MockUpstream  string `help:"upstream for the /proxy passthrough route" default:"" env:"MOCK_API_UPSTREAM"`
	MockModels    string `help:"JSON file served from /v1/models in mock mode" default:"" env:"MOCK_MODELS_FILE"`

	// UI
	StaticDir string `help:"directory holding the built UI bundle" default:"dist" env:"STATIC_DIR"`

	// CORS configuration
	CORSAllowOrigins     []string `help:"allowed CORS origins for API requests, any origin when empty" env:"CORS_ALLOW_ORIGINS"`
	CORSAllowCredentials bool     `help:"allow credentialed CORS requests from the listed origins" default:"false" env:"CORS_ALLOW_CREDENTIALS"`

	// Operational
	TrustProxyHeaders bool `help:"use X-Forwarded-For and X-Real-IP to identify clients" default:"false" env:"TRUST_PROXY_HEADERS"`
	Tracing           bool `help:"enable tracing" default:"false" env:"TRACING"`
}

// Validate is called by kong after parsing.
func (c *ServeCmd) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.SessionTTL <= 0 {
		return errors.New("session TTL must be positive (--session-ttl or SESSION_TTL)")
	}
	if c.LoginMaxPerMin <= 0 {
		return errors.New("login attempt limit must be positive (--login-max-per-min or LOGIN_MAX_PER_MIN)")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}

	if c.Mode == string(server.ModeProxy) {
		if err := validateBaseURL(c.UpstreamBase); err != nil {
			return fmt.Errorf("upstream base: %w", err)
		}
	}
	if c.MockUpstream != "" {
		if err := validateBaseURL(c.MockUpstream); err != nil {
			return fmt.Errorf("passthrough upstream: %w", err)
		}
	}
	if _, err := client.ProxyFunc(c.OutboundProxy); err != nil {
		return err
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Str("mode", c.Mode).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "api2web", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	handler, err := c.buildHandler(log)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	srv := configureHTTPServer(addr, handler)

	errCh := make(chan error, 1)
	go func() {
		if c.Cert != "" {
			log.Info().Str("addr", addr).Msg("Starting HTTPS server")
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// buildHandler wires the stores, gate, upstreams and router from the parsed flags.
func (c *ServeCmd) buildHandler(log zerolog.Logger) (http.Handler, error) {
	sessions := memory.NewSessionStore(c.SessionTTL)
	attempts := login.NewAttemptLedger(c.LoginMaxPerMin, time.Minute)

	gate := login.NewGate(login.Config{
		Passkey:      c.Passkey,
		CookieName:   c.CookieName,
		CookieSecret: []byte(c.SessionSecret),
		Secure:       c.HTTPSOnly,
	}, sessions, attempts)

	if !gate.Enabled() {
		log.Warn().Msg("APP_PASSKEY is not set, authentication is disabled")
	}

	static, err := website.NewStatic(c.StaticDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open static dir: %w", err)
	}

	upstreamClient, err := client.NewUpstreamClient(client.Config{
		OutboundProxy: c.OutboundProxy,
		DialTimeout:   client.DefaultConfig().DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	cfg := server.Config{
		Mode:   server.Mode(c.Mode),
		Gate:   gate,
		Static: static,
		CORS: server.CORSConfig{
			AllowedOrigins:   c.CORSAllowOrigins,
			AllowCredentials: c.CORSAllowCredentials,
		},
		TrustProxyHeaders: c.TrustProxyHeaders,
		Logger:            log,
	}

	switch cfg.Mode {
	case server.ModeProxy:
		if c.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY is not set, /v1 requests will fail")
		}
		cfg.Upstream, err = proxy.New(proxy.Config{
			Name:          "v1",
			BaseURL:       c.UpstreamBase,
			APIKey:        c.OpenAIAPIKey,
			SessionCookie: gate.CookieName(),
			Client:        upstreamClient,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("upstream", c.UpstreamBase).Msg("Proxying /v1")

	case server.ModeMock:
		cfg.Upstream, err = mock.New(mock.Config{ModelsFile: c.MockModels})
		if err != nil {
			return nil, fmt.Errorf("failed to create mock upstream: %w", err)
		}
		log.Info().Msg("Serving mock /v1")
	}

	if c.MockUpstream != "" {
		cfg.Passthrough, err = proxy.New(proxy.Config{
			Name:              "passthrough",
			BaseURL:           c.MockUpstream,
			ForwardClientAuth: true,
			StripPrefix:       "/proxy",
			SessionCookie:     gate.CookieName(),
			Client:            upstreamClient,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("upstream", c.MockUpstream).Msg("Passthrough enabled on /proxy")
	}

	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Str("static_dir", static.Root()).Bool("auth", gate.Enabled()).Msg("Router ready")
	return srv.Handler(), nil
}
