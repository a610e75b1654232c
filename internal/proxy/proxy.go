package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	httpmiddleware "github.com/wolfeidau/api2web/internal/http"
	"github.com/wolfeidau/api2web/internal/telemetry"
)

// maxErrorBody bounds how much of an upstream error response is read for normalization.
const maxErrorBody = 1 << 20

var (
	ErrInvalidBaseURL = errors.New("invalid upstream base URL")

	errReadBody = errors.New("read request body")
)

// Config configures a single upstream route.
type Config struct {
	// Name labels the route in logs, traces and metrics.
	Name string
	// BaseURL is the upstream origin, optionally with a path prefix.
	BaseURL string
	// APIKey is sent as a bearer token unless ForwardClientAuth is set.
	APIKey string
	// ForwardClientAuth relays the caller's Authorization header unchanged.
	ForwardClientAuth bool
	// StripPrefix is removed from the inbound path before it is appended to BaseURL.
	StripPrefix string
	// SessionCookie is the gateway cookie removed from forwarded requests.
	SessionCookie string
	Client        *http.Client
}

// Proxy relays authenticated requests to an OpenAI compatible upstream.
type Proxy struct {
	name              string
	base              string
	apiKey            string
	forwardClientAuth bool
	stripPrefix       string
	sessionCookie     string
	client            *http.Client
}

func New(cfg Config) (*Proxy, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidBaseURL, cfg.BaseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	name := cfg.Name
	if name == "" {
		name = "upstream"
	}

	return &Proxy{
		name:              name,
		base:              strings.TrimRight(u.String(), "/"),
		apiKey:            cfg.APIKey,
		forwardClientAuth: cfg.ForwardClientAuth,
		stripPrefix:       cfg.StripPrefix,
		sessionCookie:     cfg.SessionCookie,
		client:            client,
	}, nil
}

// UpstreamURL maps an inbound request onto the upstream base URL.
func (p *Proxy) UpstreamURL(r *http.Request) string {
	inbound := r.URL.EscapedPath()
	if p.stripPrefix != "" {
		inbound = strings.TrimPrefix(inbound, p.stripPrefix)
	}
	if !strings.HasPrefix(inbound, "/") {
		inbound = "/" + inbound
	}

	target := p.base + inbound
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx).With().Str("route", p.name).Logger()
	start := time.Now()

	if !p.forwardClientAuth && p.apiKey == "" {
		logger.Error().Msg("upstream credential is not configured")
		httpmiddleware.WriteError(w, http.StatusInternalServerError,
			"upstream API key is not configured", httpmiddleware.CodeMissingAPIKey)
		return
	}

	target := p.UpstreamURL(r)

	ctx, span := telemetry.Tracer().Start(ctx, "proxy "+p.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLFull(target),
		),
	)
	defer span.End()

	outReq, err := p.newUpstreamRequest(ctx, r, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, errReadBody) {
			logger.Warn().Err(err).Msg("failed to read request body")
			httpmiddleware.WriteError(w, http.StatusBadRequest, "unable to read request body", httpmiddleware.CodeInvalidRequest)
			return
		}
		logger.Error().Err(err).Msg("failed to build upstream request")
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error", httpmiddleware.CodeInternal)
		return
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if ctx.Err() != nil {
			logger.Debug().Err(err).Msg("client went away before upstream responded")
			return
		}

		logger.Warn().Err(err).Str("upstream", target).Msg("upstream fetch failed")
		telemetry.GetMetrics().RecordUpstreamFailure(ctx, p.name)
		httpmiddleware.WriteError(w, http.StatusBadGateway, "upstream fetch failed", httpmiddleware.CodeUpstreamFetch)
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	telemetry.GetMetrics().RecordProxy(ctx, p.name, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest && identityEncoded(resp.Header) {
		span.SetStatus(codes.Error, resp.Status)
		p.relayError(ctx, w, resp)
		return
	}

	CopyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if err := stream(w, resp.Body); err != nil {
		span.RecordError(err)
		logger.Debug().Err(err).Msg("response stream ended early")
	}
}

func (p *Proxy) newUpstreamRequest(ctx context.Context, r *http.Request, target string) (*http.Request, error) {
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errReadBody, err)
		}
		body = bytes.NewReader(data)
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	CopyHeaders(outReq.Header, r.Header)
	// the transport negotiates gzip itself and decodes it, so error bodies stay readable
	outReq.Header.Del("Accept-Encoding")
	removeCookie(outReq.Header, p.sessionCookie)
	if !p.forwardClientAuth {
		outReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(outReq.Header))

	return outReq, nil
}

func (p *Proxy) relayError(ctx context.Context, w http.ResponseWriter, resp *http.Response) {
	logger := zerolog.Ctx(ctx)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		logger.Debug().Err(err).Msg("failed to read upstream error body")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("upstream.error_body_bytes", len(body)))

	if normalized, ok := NormalizeError(resp.Header.Get("Content-Type"), body); ok {
		logger.Info().Int("status", resp.StatusCode).Msg("normalized upstream error")
		for k, values := range resp.Header {
			if IsHopByHopHeader(k) || strings.EqualFold(k, "Content-Type") {
				continue
			}
			for _, value := range values {
				w.Header().Add(k, value)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(normalized)
		return
	}

	CopyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

func identityEncoded(h http.Header) bool {
	enc := strings.TrimSpace(h.Get("Content-Encoding"))
	return enc == "" || strings.EqualFold(enc, "identity")
}

// stream copies body to w, flushing after every chunk so server-sent events
// reach the client as they arrive.
func stream(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
