// Package observe provides application-wide observability primitives for
// voxwire: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// ConnectDuration tracks how long (re)connection attempts take, in
	// seconds. Use with attribute.String("status", "ok"|"error").
	ConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time for the local
	// metrics/health endpoints. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksCaptured counts audio chunks received from the source.
	ChunksCaptured metric.Int64Counter

	// ChunksDropped counts audio data evicted under pressure. Use with
	// attribute.String("stage", "buffer"|"queue").
	ChunksDropped metric.Int64Counter

	// FramesSent counts audio frames written to the wire.
	FramesSent metric.Int64Counter

	// BytesSent counts audio payload bytes written to the wire.
	BytesSent metric.Int64Counter

	// Reconnects counts connection attempts. Use with
	// attribute.String("status", "ok"|"error").
	Reconnects metric.Int64Counter

	// InboundMessages counts decoded transcription events by kind. Use with
	// attribute.String("kind", ...).
	InboundMessages metric.Int64Counter

	// DecodeErrors counts malformed inbound messages that were dropped.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of frames waiting in the outbound queue.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection and local-HTTP latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("voxwire.connect.duration",
		metric.WithDescription("Latency of WebSocket connection attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxwire.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksCaptured, err = m.Int64Counter("voxwire.audio.chunks_captured",
		metric.WithDescription("Total audio chunks received from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxwire.audio.chunks_dropped",
		metric.WithDescription("Total audio data evicted from bounded buffers by stage."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxwire.transport.frames_sent",
		metric.WithDescription("Total audio frames written to the wire."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxwire.transport.bytes_sent",
		metric.WithDescription("Total audio payload bytes written to the wire."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voxwire.transport.connect_attempts",
		metric.WithDescription("Total connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.InboundMessages, err = m.Int64Counter("voxwire.transport.inbound_messages",
		metric.WithDescription("Total decoded transcription events by kind."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxwire.transport.decode_errors",
		metric.WithDescription("Total malformed inbound messages dropped."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxwire.transport.queue_depth",
		metric.WithDescription("Frames currently waiting in the outbound queue."),
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

// RecordConnectAttempt records one connection attempt with its outcome and
// latency.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, seconds float64, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Reconnects.Add(ctx, 1, attrs)
	m.ConnectDuration.Record(ctx, seconds, attrs)
}

// RecordFrameSent records one outbound audio frame of the given size.
func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(bytes))
}

// RecordDrop records evicted audio data at the given stage
// ("buffer" or "queue").
func (m *Metrics) RecordDrop(ctx context.Context, stage string, count int) {
	m.ChunksDropped.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordInbound records one decoded inbound event by kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}
