package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func find(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordTranscription(ctx, "mock", "ok", 2, 1, 0.5)
	m.RecordTranscription(ctx, "mock", "error", 0, 0, 0)

	counter := find(t, reader, "scribe.transcriptions")
	if counter == nil {
		t.Fatal("transcription counter not exported")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Fatalf("expected 2 transcriptions, got %d", total)
	}

	rtf := find(t, reader, "scribe.inference.real_time_factor")
	if rtf == nil {
		t.Fatal("rtf histogram not exported")
	}
	hist := rtf.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected a single rtf observation for the successful call, got %+v", hist.DataPoints)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTranscription(ctx, "mock", "ok", 1, 1, 1)
	m.AddDroppedSamples(ctx, 10)
	m.AddDroppedEvent(ctx, "log")
	m.RecordStreamWindow(ctx, "no_voice")
	m.StreamOpened(ctx)
	m.StreamClosed(ctx)
}
