// Package observe provides application-wide observability primitives for
// wordlens: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wordlens metrics.
const meterName = "github.com/MrWong99/wordlens"

// Lookup outcome attribute values.
const (
	OutcomeFinished  = "finished"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LookupDuration tracks wall-clock time from Start to the terminal event.
	// Use with attribute.String("outcome", ...).
	LookupDuration metric.Float64Histogram

	// ProviderDuration tracks the time until a provider call returned (first
	// byte for streams). Use with attributes provider and kind.
	ProviderDuration metric.Float64Histogram

	// --- Counters ---

	// LookupOutcomes counts terminal lookup events by outcome.
	LookupOutcomes metric.Int64Counter

	// LookupRepairs counts repair completions issued after a parse failure.
	LookupRepairs metric.Int64Counter

	// StreamFragments counts text fragments consumed from completion streams.
	StreamFragments metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CardsSaved counts flashcards written, by sink driver.
	CardsSaved metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected websocket lookup sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round trips, which range from sub-second first bytes to long
// repair-inclusive lookups.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LookupDuration, err = m.Float64Histogram("wordlens.lookup.duration",
		metric.WithDescription("Time from lookup start to its terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("wordlens.provider.duration",
		metric.WithDescription("Latency of provider calls until the response or stream started."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.LookupOutcomes, err = m.Int64Counter("wordlens.lookup.outcomes",
		metric.WithDescription("Terminal lookup events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LookupRepairs, err = m.Int64Counter("wordlens.lookup.repairs",
		metric.WithDescription("Repair completions issued after unparsable model output."),
	); err != nil {
		return nil, err
	}
	if met.StreamFragments, err = m.Int64Counter("wordlens.stream.fragments",
		metric.WithDescription("Text fragments consumed from completion streams."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("wordlens.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("wordlens.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CardsSaved, err = m.Int64Counter("wordlens.cards.saved",
		metric.WithDescription("Flashcards written by sink driver."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wordlens.active_sessions",
		metric.WithDescription("Number of connected websocket lookup sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wordlens.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordLookup records the terminal outcome of one lookup and its duration.
func (m *Metrics) RecordLookup(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.LookupOutcomes.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRepair increments the repair counter.
func (m *Metrics) RecordRepair(ctx context.Context) {
	m.LookupRepairs.Add(ctx, 1)
}

// RecordFragments adds n consumed stream fragments.
func (m *Metrics) RecordFragments(ctx context.Context, n int) {
	if n > 0 {
		m.StreamFragments.Add(ctx, int64(n))
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderLatency records how long a provider call took to return.
func (m *Metrics) RecordProviderLatency(ctx context.Context, provider, kind string, d time.Duration) {
	m.ProviderDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCardSaved increments the saved-card counter for driver.
func (m *Metrics) RecordCardSaved(ctx context.Context, driver string) {
	m.CardsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("driver", driver)))
}
