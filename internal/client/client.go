package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// Config holds the outbound HTTP client configuration
type Config struct {
	// OutboundProxy routes every upstream call through this HTTP proxy URL.
	// Empty means the standard HTTP_PROXY, HTTPS_PROXY and NO_PROXY variables apply.
	OutboundProxy string
	// DialTimeout bounds connection setup only. Responses have no deadline so
	// streamed completions can run as long as the upstream keeps sending.
	DialTimeout time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		DialTimeout: 30 * time.Second,
	}
}

// NewUpstreamClient creates the HTTP client used to reach upstream APIs.
func NewUpstreamClient(cfg Config) (*http.Client, error) {
	proxyFunc, err := ProxyFunc(cfg.OutboundProxy)
	if err != nil {
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultConfig().DialTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFunc
	transport.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}, nil
}

// ProxyFunc returns the transport proxy selector for outboundProxy.
func ProxyFunc(outboundProxy string) (func(*http.Request) (*url.URL, error), error) {
	if outboundProxy == "" {
		return http.ProxyFromEnvironment, nil
	}

	u, err := url.Parse(outboundProxy)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid outbound proxy URL %q", outboundProxy)
	}

	cfg := &httpproxy.Config{
		HTTPProxy:  outboundProxy,
		HTTPSProxy: outboundProxy,
	}
	proxyForURL := cfg.ProxyFunc()

	return func(r *http.Request) (*url.URL, error) {
		return proxyForURL(r.URL)
	}, nil
}
