package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
	"github.com/wolfeidau/api2web/internal/logger"
	"github.com/wolfeidau/api2web/internal/login"
)

// Mode selects what answers the /v1 API surface.
type Mode string

const (
	ModeProxy  Mode = "proxy"
	ModeStatic Mode = "static"
	ModeMock   Mode = "mock"
)

var (
	ErrMissingGate     = errors.New("auth gate is required")
	ErrMissingStatic   = errors.New("static handler is required")
	ErrMissingUpstream = errors.New("upstream handler is required in proxy and mock mode")
	ErrUnknownMode     = errors.New("unknown mode")
)

// CORSConfig configures cross-origin access to the API routes. An empty
// AllowedOrigins list allows any origin without credentials.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

type Config struct {
	Mode Mode
	Gate *login.Gate
	// Static serves the UI bundle for every non API route.
	Static http.Handler
	// Upstream answers /v1 in proxy and mock mode.
	Upstream http.Handler
	// Passthrough answers /proxy, nil when no passthrough upstream is configured.
	Passthrough       http.Handler
	CORS              CORSConfig
	TrustProxyHeaders bool
	Logger            zerolog.Logger
}

// Server routes requests between the auth endpoints, the API surface and the static UI.
type Server struct {
	cfg Config
}

func New(cfg Config) (*Server, error) {
	if cfg.Gate == nil {
		return nil, ErrMissingGate
	}
	if cfg.Static == nil {
		return nil, ErrMissingStatic
	}

	switch cfg.Mode {
	case ModeProxy, ModeMock:
		if cfg.Upstream == nil {
			return nil, ErrMissingUpstream
		}
	case ModeStatic:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	return &Server{cfg: cfg}, nil
}

// Handler returns the complete middleware wrapped handler.
func (s *Server) Handler() http.Handler {
	gate := s.cfg.Gate
	requireJSON := gate.RequireAuth(login.ModeJSON)
	requireSession := gate.RequireAuth(login.ModeRedirect)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		httpmiddleware.WriteOK(w)
	})

	mux.HandleFunc("GET /login", gate.LoginPageHandler)
	mux.HandleFunc("POST /auth/login", gate.LoginHandler)
	mux.HandleFunc("POST /auth/logout", gate.LogoutHandler)

	api := requireJSON(s.apiHandler())
	mux.Handle("/v1", api)
	mux.Handle("/v1/", api)

	passthrough := requireJSON(s.passthroughHandler())
	mux.Handle("/proxy", passthrough)
	mux.Handle("/proxy/", passthrough)

	mux.Handle("/", requireSession(gzhttp.GzipHandler(s.cfg.Static)))

	// API routes get CORS, HTML routes get CSRF
	withCORS := newCORS(s.cfg.CORS).Handler(mux)
	withCSRF := csrf.New().Handler(mux)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			withCORS.ServeHTTP(w, r)
			return
		}
		withCSRF.ServeHTTP(w, r)
	})

	return logger.RequestLogger(s.cfg.Logger)(
		httpmiddleware.RecoverMiddleware()(
			httpmiddleware.ClientIPMiddleware(s.cfg.TrustProxyHeaders)(handler),
		),
	)
}

func (s *Server) apiHandler() http.Handler {
	if s.cfg.Mode == ModeStatic {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpmiddleware.WriteError(w, http.StatusNotFound, "not found", httpmiddleware.CodeNotFound)
		})
	}
	return s.cfg.Upstream
}

func (s *Server) passthroughHandler() http.Handler {
	if s.cfg.Passthrough == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpmiddleware.WriteError(w, http.StatusInternalServerError,
				"MOCK_API_UPSTREAM is not set", httpmiddleware.CodeNoPassthrough)
		})
	}
	return s.cfg.Passthrough
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of CSRF
func isAPIRoute(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/") ||
		path == "/proxy" || strings.HasPrefix(path, "/proxy/")
}

func newCORS(cfg CORSConfig) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "X-Request-Id", "OpenAI-Organization", "OpenAI-Project"},
		ExposedHeaders: []string{"X-Request-Id"},
	}

	if len(cfg.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
		return cors.New(opts)
	}

	opts.AllowedOrigins = cfg.AllowedOrigins
	opts.AllowCredentials = cfg.AllowCredentials
	return cors.New(opts)
}
