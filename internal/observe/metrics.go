// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleylabs/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ChatDuration tracks chat-completion latency.
	ChatDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end latency of one interaction turn,
	// from end of capture to end of reply synthesis.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Recordings counts finished capture sessions. Use with attribute:
	//   attribute.String("reason", ...)
	Recordings metric.Int64Counter

	// PlaybackSegments counts drained playback segments. Use with attribute:
	//   attribute.String("status", ...)
	PlaybackSegments metric.Int64Counter

	// RelayMessages counts relay envelopes. Use with attributes:
	//   attribute.String("type", ...), attribute.String("direction", ...)
	RelayMessages metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ConnectedPeers tracks the number of live relay connections.
	ConnectedPeers metric.Int64UpDownCounter

	// PlaybackPendingBytes tracks bytes waiting in the playback buffer.
	PlaybackPendingBytes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("parley.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("parley.chat.duration",
		metric.WithDescription("Latency of chat completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("End-to-end latency of one interaction turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Recordings, err = m.Int64Counter("parley.capture.recordings",
		metric.WithDescription("Total finished capture sessions by finish reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSegments, err = m.Int64Counter("parley.playback.segments",
		metric.WithDescription("Total drained playback segments by status."),
	); err != nil {
		return nil, err
	}
	if met.RelayMessages, err = m.Int64Counter("parley.relay.messages",
		metric.WithDescription("Total relay envelopes by type and direction."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectedPeers, err = m.Int64UpDownCounter("parley.relay.peers",
		metric.WithDescription("Number of live relay connections."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackPendingBytes, err = m.Int64UpDownCounter("parley.playback.pending_bytes",
		metric.WithDescription("Bytes waiting in the playback buffer."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordSTTDuration records one transcription latency in seconds. Safe on a
// nil receiver.
func (m *Metrics) RecordSTTDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, seconds)
}

// RecordChatDuration records one chat-completion latency in seconds. Safe on
// a nil receiver.
func (m *Metrics) RecordChatDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.ChatDuration.Record(ctx, seconds)
}

// RecordTTSDuration records one synthesis latency in seconds. Safe on a nil
// receiver.
func (m *Metrics) RecordTTSDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, seconds)
}

// RecordTurnDuration records the end-to-end latency of one interaction turn
// in seconds. Safe on a nil receiver.
func (m *Metrics) RecordTurnDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, seconds)
}

// RecordRecording records a finished capture session. Safe on a nil receiver
// so components can run unmetered.
func (m *Metrics) RecordRecording(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Recordings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordPlaybackSegment records one drained playback segment. Safe on a nil
// receiver.
func (m *Metrics) RecordPlaybackSegment(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.PlaybackSegments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRelayMessage records one relay envelope. Safe on a nil receiver.
func (m *Metrics) RecordRelayMessage(ctx context.Context, msgType, direction string) {
	if m == nil {
		return
	}
	m.RelayMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("direction", direction),
		),
	)
}

// RecordProviderRequest records a provider request with the standard
// attribute set. Safe on a nil receiver.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error. Safe on a nil receiver.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// AddConnectedPeers moves the relay peer gauge by delta. Safe on a nil
// receiver.
func (m *Metrics) AddConnectedPeers(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ConnectedPeers.Add(ctx, delta)
}

// AddPlaybackPending moves the pending-bytes gauge by delta. Safe on a nil
// receiver.
func (m *Metrics) AddPlaybackPending(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.PlaybackPendingBytes.Add(ctx, delta)
}
