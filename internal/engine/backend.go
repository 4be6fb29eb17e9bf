package engine

import (
	"context"
	"fmt"
	"time"
)

// Backend runs inference for a Production engine.
type Backend interface {
	Infer(ctx context.Context, samples []float32, language string) (string, error)
	RuntimeVersion() string
	Close() error
}

// BackendConfig carries what a backend needs to load a model.
type BackendConfig struct {
	Kind      string // native, exec
	ModelPath string
	Command   string
	Language  string
	Threads   int
	Timeout   time.Duration
}

// LoadBackend builds the backend named by cfg.Kind.
func LoadBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", "native":
		return newNativeBackend(cfg)
	case "exec":
		return newExecBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
}
