package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/events"
)

// NewFactory returns a Factory building Production engines from cfg.
func NewFactory(cfg config.EngineConfig, log *slog.Logger) Factory {
	return func(ctx context.Context, model string) (Engine, error) {
		return NewProduction(ctx, ProductionConfig{
			Model: model,
			Backend: BackendConfig{
				Kind:      cfg.Backend,
				ModelPath: cfg.ModelPath(model),
				Command:   cfg.Command,
				Language:  cfg.Language,
				Threads:   cfg.Threads,
				Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			},
			WarmupSeconds: cfg.WarmupSeconds,
		}, LoadBackend, log)
	}
}

// NewProviderFromConfig wires a Provider for the configured mode and model.
func NewProviderFromConfig(cfg config.EngineConfig, emitter events.Emitter, log *slog.Logger) *Provider {
	return NewProvider(ProviderConfig{
		Mode:    cfg.Mode,
		Model:   cfg.ModelName,
		Factory: NewFactory(cfg, log),
		Events:  emitter,
		Logger:  log,
	})
}
