// Package metrics defines the OpenTelemetry instruments recorded by the
// capture, inference and streaming paths. Instruments are created from an
// injected MeterProvider; the runtime wires the Prometheus exporter in front
// of it so the same data is scraped from /metrics.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-scribe"

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	InferenceDuration metric.Float64Histogram
	RealTimeFactor    metric.Float64Histogram
	AudioDuration     metric.Float64Histogram

	// Transcriptions counts engine calls by mode and status.
	Transcriptions metric.Int64Counter

	DroppedSamples metric.Int64Counter
	DroppedEvents  metric.Int64Counter

	// StreamWindows counts streaming windows by outcome
	// (transcribed, no_voice, error).
	StreamWindows metric.Int64Counter

	ActiveStreams metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

var rtfBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5,
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("scribe.inference.duration",
		metric.WithDescription("Wall time spent inside the transcription engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RealTimeFactor, err = m.Float64Histogram("scribe.inference.real_time_factor",
		metric.WithDescription("Inference time divided by audio duration."),
		metric.WithExplicitBucketBoundaries(rtfBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("scribe.audio.duration",
		metric.WithDescription("Duration of audio submitted for transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("scribe.transcriptions",
		metric.WithDescription("Transcription attempts by engine mode and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64Counter("scribe.capture.dropped_samples",
		metric.WithDescription("Samples evicted from the bounded recording buffer."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("scribe.events.dropped",
		metric.WithDescription("Events discarded because the event queue was full."),
	); err != nil {
		return nil, err
	}
	if met.StreamWindows, err = m.Int64Counter("scribe.stream.windows",
		metric.WithDescription("Streaming windows processed by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("scribe.stream.active",
		metric.WithDescription("Number of open streaming sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordTranscription records one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, mode, status string, audioSeconds, inferenceSeconds, rtf float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.Transcriptions.Add(ctx, 1, attrs)
	if status != "ok" {
		return
	}
	modeAttr := metric.WithAttributes(attribute.String("mode", mode))
	m.InferenceDuration.Record(ctx, inferenceSeconds, modeAttr)
	m.AudioDuration.Record(ctx, audioSeconds, modeAttr)
	m.RealTimeFactor.Record(ctx, rtf, modeAttr)
}

func (m *Metrics) AddDroppedSamples(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedSamples.Add(ctx, int64(n))
}

func (m *Metrics) AddDroppedEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.DroppedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) RecordStreamWindow(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.StreamWindows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(ctx, 1)
}

func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(ctx, -1)
}
