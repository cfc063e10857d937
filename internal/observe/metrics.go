// Package observe provides application-wide observability primitives for
// glyphrec: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all glyphrec metrics.
const meterName = "github.com/MrWong99/glyphrec"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscodeDuration tracks how long one staging file takes to transcode.
	TranscodeDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis plus playback time.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// RecordedBytes counts raw PCM bytes staged across all speakers.
	RecordedBytes metric.Int64Counter

	// RecordingsFinalized counts finished speaker recordings. Use with attribute:
	//   attribute.String("status", "ok"|"failed")
	RecordingsFinalized metric.Int64Counter

	// --- Error counters ---

	// SpeakerErrors counts speaker stream failures. Use with attribute:
	//   attribute.String("kind", ...)
	SpeakerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks the number of guilds currently recording.
	ActiveRecordings metric.Int64UpDownCounter

	// ActiveSpeakers tracks the number of live speaker streams across all guilds.
	ActiveSpeakers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// "route" (the ServeMux pattern) and "status" (e.g. "2xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for short
// interactive operations.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// transcodeBuckets covers transcodes of recordings from seconds to hours long.
var transcodeBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscodeDuration, err = m.Float64Histogram("glyphrec.transcode.duration",
		metric.WithDescription("Latency of transcoding one speaker recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(transcodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("glyphrec.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis and playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RecordedBytes, err = m.Int64Counter("glyphrec.recorded_bytes",
		metric.WithDescription("Raw PCM bytes staged across all speakers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RecordingsFinalized, err = m.Int64Counter("glyphrec.recordings_finalized",
		metric.WithDescription("Finished speaker recordings by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SpeakerErrors, err = m.Int64Counter("glyphrec.speaker_errors",
		metric.WithDescription("Speaker stream failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("glyphrec.active_recordings",
		metric.WithDescription("Number of guilds currently recording."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("glyphrec.active_speakers",
		metric.WithDescription("Number of live speaker streams across all guilds."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("glyphrec.http.request.duration",
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

// RecordSpeakerError records a speaker failure of the given kind.
func (m *Metrics) RecordSpeakerError(ctx context.Context, kind string) {
	m.SpeakerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFinalized records a finished speaker recording. ok selects the
// status attribute.
func (m *Metrics) RecordFinalized(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.RecordingsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
