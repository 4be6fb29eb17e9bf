package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ProductionConfig configures a Production engine.
type ProductionConfig struct {
	Model         string
	Backend       BackendConfig
	WarmupSeconds float64
}

// Production runs real inference through a Backend.
type Production struct {
	mu      sync.RWMutex
	backend Backend
	cfg     ProductionConfig
	log     *slog.Logger
}

// Loader builds a backend; swapped out in tests.
type Loader func(BackendConfig) (Backend, error)

// NewProduction verifies the model artifact, loads the backend and runs a
// warm-up inference. Warm-up failures are logged only.
func NewProduction(ctx context.Context, cfg ProductionConfig, load Loader, log *slog.Logger) (*Production, error) {
	if load == nil {
		load = LoadBackend
	}
	log = log.With(slog.String("component", "engine"), slog.String("model", cfg.Model))

	if cfg.Backend.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrInit)
	}
	if _, err := os.Stat(cfg.Backend.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model artifact: %w", ErrInit, err)
	}

	started := time.Now()
	backend, err := load(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	p := &Production{backend: backend, cfg: cfg, log: log}
	log.Info("model loaded",
		slog.String("path", cfg.Backend.ModelPath),
		slog.String("backend", cfg.Backend.Kind),
		slog.Duration("elapsed", time.Since(started)))

	p.warmup(ctx)
	return p, nil
}

func (p *Production) warmup(ctx context.Context) {
	if p.cfg.WarmupSeconds <= 0 {
		return
	}
	silence := make([]float32, int(p.cfg.WarmupSeconds*SampleRate))
	started := time.Now()
	if _, err := p.backend.Infer(ctx, silence, p.cfg.Backend.Language); err != nil {
		p.log.Warn("warm-up inference failed", slog.String("error", err.Error()))
		return
	}
	p.log.Info("warm-up complete", slog.Duration("elapsed", time.Since(started)))
}

func (p *Production) Transcribe(ctx context.Context, samples []float32, language string) (Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return Result{}, ErrNotInitialized
	}
	if language == "" {
		language = p.cfg.Backend.Language
	}

	started := time.Now()
	text, err := p.backend.Infer(ctx, samples, language)
	inference := time.Since(started).Seconds()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	duration := float64(len(samples)) / SampleRate
	res := NewResult(text, language, ModeProduction, duration, inference, time.Since(started).Seconds())
	res.Model = p.cfg.Model
	p.log.Debug("transcription complete",
		slog.Float64("duration_s", duration),
		slog.Float64("inference_s", inference),
		slog.Float64("rtf", res.RealTimeFactor))
	return res, nil
}

func (p *Production) ModelInfo() ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := ModelInfo{
		Name:        p.cfg.Model,
		Path:        p.cfg.Backend.ModelPath,
		SampleRate:  SampleRate,
		ThreadCount: p.cfg.Backend.Threads,
		Backend:     p.cfg.Backend.Kind,
	}
	if p.backend != nil {
		info.RuntimeVersion = p.backend.RuntimeVersion()
	}
	return info
}

func (p *Production) Mode() Mode { return ModeProduction }

func (p *Production) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backend == nil {
		return nil
	}
	err := p.backend.Close()
	p.backend = nil
	return err
}
