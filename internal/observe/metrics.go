// Package observe provides application-wide observability primitives for
// transrouter: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all transrouter metrics.
const meterName = "github.com/MrWong99/transrouter"

// Drop reasons reported on the capture and dispatch drop counters.
const (
	ReasonFull       = "full"
	ReasonTimeout    = "timeout"
	ReasonNotRunning = "not_running"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// CaptureFrames counts frames handed from the hardware callback to the
	// pipeline.
	CaptureFrames metric.Int64Counter

	// CaptureDrops counts frames dropped at the hardware boundary. Use with
	// attribute.String("reason", ...).
	CaptureDrops metric.Int64Counter

	// --- Segmentation ---

	// SegmentsEmitted counts speech segments produced by the segmenter.
	SegmentsEmitted metric.Int64Counter

	// SegmentsDiscarded counts speech runs discarded as too short.
	SegmentsDiscarded metric.Int64Counter

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// --- Dispatch ---

	// DispatchEnqueued counts segments accepted by the dispatch queue.
	DispatchEnqueued metric.Int64Counter

	// DispatchDrops counts segments dropped by backpressure. Use with
	// attribute.String("reason", ...).
	DispatchDrops metric.Int64Counter

	// DispatchQueueDepth tracks the number of segments waiting to be sent.
	DispatchQueueDepth metric.Int64UpDownCounter

	// --- Remote channel ---

	// RemoteSent counts segments delivered to the remote service. Use with
	// attribute.String("provider", ...).
	RemoteSent metric.Int64Counter

	// RemoteErrors counts remote channel failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	RemoteErrors metric.Int64Counter

	// SynthesisDuration tracks text-to-speech latency for text responses.
	SynthesisDuration metric.Float64Histogram

	// --- Playback ---

	// PlaybackChunks counts audio chunks written to the output device.
	PlaybackChunks metric.Int64Counter

	// PlaybackWriteErrors counts failed device writes.
	PlaybackWriteErrors metric.Int64Counter

	// PlaybackWriteDuration tracks how long device writes block.
	PlaybackWriteDuration metric.Float64Histogram

	// --- Archive ---

	// ArchiveFiles counts persisted archive files. Use with
	// attribute.String("kind", ...).
	ArchiveFiles metric.Int64Counter

	// ArchiveErrors counts failed archive writes. Use with
	// attribute.String("kind", ...).
	ArchiveErrors metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of running translation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionRestarts counts supervisor restarts after recoverable failures.
	SessionRestarts metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for device and provider latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines histogram bucket boundaries (in seconds) for spoken
// utterance lengths.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("transrouter.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("transrouter.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis for text responses."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackWriteDuration, err = m.Float64Histogram("transrouter.playback.write.duration",
		metric.WithDescription("Time spent blocked in output device writes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.CaptureFrames, "transrouter.capture.frames", "Total frames handed off by the capture callback."},
		{&met.CaptureDrops, "transrouter.capture.drops", "Total frames dropped at the capture boundary by reason."},
		{&met.SegmentsEmitted, "transrouter.segment.emitted", "Total speech segments emitted by the segmenter."},
		{&met.SegmentsDiscarded, "transrouter.segment.discarded", "Total speech runs discarded as too short."},
		{&met.DispatchEnqueued, "transrouter.dispatch.enqueued", "Total segments accepted by the dispatch queue."},
		{&met.DispatchDrops, "transrouter.dispatch.drops", "Total segments dropped by backpressure by reason."},
		{&met.RemoteSent, "transrouter.remote.sent", "Total segments sent to the remote service by provider."},
		{&met.RemoteErrors, "transrouter.remote.errors", "Total remote channel failures by provider and kind."},
		{&met.PlaybackChunks, "transrouter.playback.chunks", "Total audio chunks written to the output device."},
		{&met.PlaybackWriteErrors, "transrouter.playback.write_errors", "Total failed output device writes."},
		{&met.ArchiveFiles, "transrouter.archive.files", "Total archive files written by kind."},
		{&met.ArchiveErrors, "transrouter.archive.errors", "Total failed archive writes by kind."},
		{&met.SessionRestarts, "transrouter.session.restarts", "Total session restarts after recoverable failures."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.DispatchQueueDepth, err = m.Int64UpDownCounter("transrouter.dispatch.queue_depth",
		metric.WithDescription("Number of segments waiting in the dispatch queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("transrouter.active_sessions",
		metric.WithDescription("Number of running translation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("transrouter.http.request.duration",
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

// RecordCaptureDrop records one frame dropped at the capture boundary.
func (m *Metrics) RecordCaptureDrop(ctx context.Context, reason string) {
	m.CaptureDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDispatchDrop records one segment dropped by the dispatch queue.
func (m *Metrics) RecordDispatchDrop(ctx context.Context, reason string) {
	m.DispatchDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRemoteError is a convenience method that records a remote channel
// error counter increment.
func (m *Metrics) RecordRemoteError(ctx context.Context, provider, kind string) {
	m.RemoteErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordArchive records the outcome of one archive write.
func (m *Metrics) RecordArchive(ctx context.Context, kind string, err error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if err != nil {
		m.ArchiveErrors.Add(ctx, 1, attrs)
		return
	}
	m.ArchiveFiles.Add(ctx, 1, attrs)
}
