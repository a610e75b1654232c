package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/api2web"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Proxy metrics
	ProxyRequestsTotal    metric.Int64Counter
	ProxyDuration         metric.Float64Histogram
	UpstreamFailuresTotal metric.Int64Counter
	UpstreamErrorsTotal   metric.Int64Counter

	// Login metrics
	LoginAttemptsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments created before InitTelemetry delegate to the provider it installs.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"api2web.proxy.requests.total",
		metric.WithDescription("Total number of requests relayed to an upstream"),
		metric.WithUnit("{request}"),
	)

	m.ProxyDuration, _ = meter.Float64Histogram(
		"api2web.proxy.duration",
		metric.WithDescription("Time until upstream response headers were received"),
		metric.WithUnit("ms"),
	)

	m.UpstreamFailuresTotal, _ = meter.Int64Counter(
		"api2web.proxy.upstream_failures.total",
		metric.WithDescription("Total number of upstream calls that failed at the network level"),
		metric.WithUnit("{request}"),
	)

	m.UpstreamErrorsTotal, _ = meter.Int64Counter(
		"api2web.proxy.upstream_errors.total",
		metric.WithDescription("Total number of upstream responses with an error status"),
		metric.WithUnit("{response}"),
	)

	m.LoginAttemptsTotal, _ = meter.Int64Counter(
		"api2web.login.attempts.total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)

	return m
}

// RecordProxy records a relayed request and how long the upstream took to answer.
func (m *Metrics) RecordProxy(ctx context.Context, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status_class", statusClass(status)),
	)
	m.ProxyRequestsTotal.Add(ctx, 1, attrs)
	m.ProxyDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if status >= 400 {
		m.UpstreamErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordUpstreamFailure records a network level failure reaching the upstream.
func (m *Metrics) RecordUpstreamFailure(ctx context.Context, route string) {
	m.UpstreamFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordLogin records a login attempt, outcome is one of ok, invalid, rate_limited.
func (m *Metrics) RecordLogin(ctx context.Context, outcome string) {
	m.LoginAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
