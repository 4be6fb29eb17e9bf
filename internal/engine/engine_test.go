package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	failWarm bool
	text     string
	closed   bool
}

func (f *fakeBackend) Infer(_ context.Context, samples []float32, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWarm && f.calls == 1 {
		return "", errors.New("warm-up exploded")
	}
	return f.text, nil
}

func (f *fakeBackend) RuntimeVersion() string { return "fake-1" }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestNewResultRealTimeFactor(t *testing.T) {
	res := NewResult("x", "en", ModeProduction, 4, 1, 1.5)
	if res.RealTimeFactor != 0.25 {
		t.Fatalf("rtf = %v, want 0.25", res.RealTimeFactor)
	}
	if zero := NewResult("", "en", ModeMock, 0, 1, 1); zero.RealTimeFactor != 0 {
		t.Fatalf("zero duration must give rtf 0, got %v", zero.RealTimeFactor)
	}
}

func TestMockTranscription(t *testing.T) {
	m := NewMock("base")
	res, err := m.Transcribe(context.Background(), make([]float32, 2*SampleRate), "de")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasPrefix(res.Text, MockMarker) || !strings.HasSuffix(res.Text, "Language: de") {
		t.Fatalf("unexpected mock text %q", res.Text)
	}
	if res.DurationSeconds != 2 || res.InferenceTimeSeconds != 1 || res.RealTimeFactor != 0.5 {
		t.Fatalf("unexpected mock timings %+v", res)
	}
	if res.Mode != ModeMock {
		t.Fatalf("unexpected mode %s", res.Mode)
	}
}

func TestProductionRealTimeFactorMatchesTimings(t *testing.T) {
	backend := &fakeBackend{text: "hello world"}
	p, err := NewProduction(context.Background(), ProductionConfig{
		Model:         "base",
		Backend:       BackendConfig{Kind: "native", ModelPath: modelFile(t), Language: "en"},
		WarmupSeconds: 0,
	}, func(BackendConfig) (Backend, error) { return backend, nil }, newLogger())
	if err != nil {
		t.Fatalf("new production: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	res, err := p.Transcribe(context.Background(), make([]float32, SampleRate), "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.DurationSeconds != 1 {
		t.Fatalf("duration = %v, want 1", res.DurationSeconds)
	}
	if math.Abs(res.RealTimeFactor-res.InferenceTimeSeconds/res.DurationSeconds) > 1e-12 {
		t.Fatalf("rtf %v inconsistent with inference %v", res.RealTimeFactor, res.InferenceTimeSeconds)
	}
	if info := p.ModelInfo(); info.RuntimeVersion != "fake-1" || info.SampleRate != SampleRate {
		t.Fatalf("unexpected model info %+v", info)
	}
}

func TestProductionWarmupFailureDoesNotBlock(t *testing.T) {
	backend := &fakeBackend{text: "ok", failWarm: true}
	p, err := NewProduction(context.Background(), ProductionConfig{
		Model:         "base",
		Backend:       BackendConfig{ModelPath: modelFile(t)},
		WarmupSeconds: 5,
	}, func(BackendConfig) (Backend, error) { return backend, nil }, newLogger())
	if err != nil {
		t.Fatalf("warm-up failure must not fail construction: %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("expected one warm-up call, got %d", backend.calls)
	}
	if _, err := p.Transcribe(context.Background(), make([]float32, 1600), "en"); err != nil {
		t.Fatalf("transcribe after failed warm-up: %v", err)
	}
	_ = p.Close()
	if !backend.closed {
		t.Fatal("close must release the backend")
	}
	if _, err := p.Transcribe(context.Background(), nil, "en"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after close, got %v", err)
	}
}

func TestProductionMissingArtifact(t *testing.T) {
	_, err := NewProduction(context.Background(), ProductionConfig{
		Backend: BackendConfig{ModelPath: filepath.Join(t.TempDir(), "missing.bin")},
	}, nil, newLogger())
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recordingEmitter) Emit(evt protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func TestProviderFallsBackToMockWhenArtifactsMissing(t *testing.T) {
	cfg := config.Default().Engine
	cfg.ModelsDir = t.TempDir()
	cfg.Language = "fr"
	emitter := &recordingEmitter{}
	provider := NewProviderFromConfig(cfg, emitter, newLogger())

	eng, err := provider.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer provider.Put(eng)
	if eng.Mode() != ModeMock {
		t.Fatalf("expected mock fallback, got %s", eng.Mode())
	}
	res, err := eng.Transcribe(context.Background(), make([]float32, SampleRate), "fr")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.Contains(res.Text, MockMarker) || !strings.Contains(res.Text, "fr") {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.RealTimeFactor != 0.5 {
		t.Fatalf("mock rtf = %v, want 0.5", res.RealTimeFactor)
	}

	provider.SetModel("tiny")
	other, err := provider.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get after set model: %v", err)
	}
	provider.Put(other)

	if len(emitter.events) != 1 || emitter.events[0].Type != protocol.EventWarning {
		t.Fatalf("expected exactly one warning event, got %+v", emitter.events)
	}
	if st := provider.Status(); st.ModelLoaded || st.Mode != ModeMock {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestProviderStrictProductionReturnsError(t *testing.T) {
	provider := NewProvider(ProviderConfig{
		Mode:   "production",
		Model:  "base",
		Logger: newLogger(),
		Factory: func(context.Context, string) (Engine, error) {
			return nil, errors.New("no gpu")
		},
	})
	if _, err := provider.Get(context.Background(), ""); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

type closeCounter struct {
	Mock
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestProviderRetiresEngineAfterPut(t *testing.T) {
	built := map[string]*closeCounter{}
	provider := NewProvider(ProviderConfig{
		Mode:   "auto",
		Model:  "base",
		Logger: newLogger(),
		Factory: func(_ context.Context, model string) (Engine, error) {
			c := &closeCounter{Mock: *NewMock(model)}
			built[model] = c
			return c, nil
		},
	})

	first, err := provider.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	again, _ := provider.Get(context.Background(), "base")
	if again != first {
		t.Fatal("expected cached engine for the same model")
	}
	provider.Put(again)

	provider.SetModel("small")
	if provider.Model() != "small" {
		t.Fatalf("model not switched")
	}
	provider.Release()
	if built["base"].closed != 0 {
		t.Fatal("engine in use must not be closed")
	}
	provider.Put(first)
	if built["base"].closed != 1 {
		t.Fatalf("retired engine should close once idle, closed=%d", built["base"].closed)
	}

	next, _ := provider.Get(context.Background(), "")
	if next == first {
		t.Fatal("expected a new engine for the new model")
	}
	provider.Put(next)
	if err := provider.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if built["small"].closed != 1 {
		t.Fatal("provider close must close the cached engine")
	}
}

type namedEngine struct {
	*Mock
	model string
}

func (e namedEngine) ModelInfo() ModelInfo { return ModelInfo{Name: e.model} }
func (e namedEngine) Mode() Mode           { return ModeProduction }

func TestProviderSetModelDuringBuildKeepsNewModelActive(t *testing.T) {
	var provider *Provider
	provider = NewProvider(ProviderConfig{
		Mode:   "auto",
		Model:  "base",
		Logger: newLogger(),
		Factory: func(_ context.Context, model string) (Engine, error) {
			if model == "base" {
				provider.SetModel("small")
			}
			return namedEngine{Mock: NewMock(model), model: model}, nil
		},
	})

	eng, err := provider.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if eng.ModelInfo().Name != "base" {
		t.Fatalf("in-flight caller should keep the model it asked for, got %q", eng.ModelInfo().Name)
	}
	st := provider.Status()
	if st.ModelName != "small" || st.Info != nil {
		t.Fatalf("status should not report the superseded engine, got %+v", st)
	}
	provider.Put(eng)

	next, err := provider.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer provider.Put(next)
	if st := provider.Status(); st.Info == nil || st.Info.Name != "small" {
		t.Fatalf("expected the small engine to be active, got %+v", st)
	}
}
