package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// Factory builds a production engine for a model name.
type Factory func(ctx context.Context, model string) (Engine, error)

// ProviderConfig configures a Provider. Mode is one of auto, mock or
// production; in production mode a failed build is returned as an error
// instead of degrading to Mock.
type ProviderConfig struct {
	Mode    string
	Model   string
	Factory Factory
	Events  events.Emitter
	Logger  *slog.Logger
}

type lease struct {
	engine  Engine
	model   string
	refs    int
	retired bool
}

// Provider lazily builds and caches one engine per model name. Engines
// replaced by SetModel are retired and closed once the last caller returns
// them with Put.
type Provider struct {
	build sync.Mutex

	mu       sync.Mutex
	cfg      ProviderConfig
	model    string
	current  *lease
	retired  []*lease
	degraded bool
	warned   bool
	log      *slog.Logger
}

func NewProvider(cfg ProviderConfig) *Provider {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = "auto"
	}
	return &Provider{
		cfg:   cfg,
		model: cfg.Model,
		log:   log.With(slog.String("component", "engine_provider")),
	}
}

// Model returns the model name new engines are built for.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// SetModel switches the active model. The cached engine, if it was built for
// another model, is retired; in-flight callers keep using it until Put.
func (p *Provider) SetModel(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == p.model {
		return
	}
	p.model = name
	if p.current != nil && p.current.model != name {
		p.retireLocked(p.current)
		p.current = nil
	}
}

// Get returns an engine for model (the active model when empty), building it
// when needed. Callers must hand it back with Put.
func (p *Provider) Get(ctx context.Context, model string) (Engine, error) {
	if model == "" {
		model = p.Model()
	}
	if l := p.acquire(model); l != nil {
		return l.engine, nil
	}

	p.build.Lock()
	defer p.build.Unlock()
	if l := p.acquire(model); l != nil {
		return l.engine, nil
	}

	eng, err := p.construct(ctx, model)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	l := &lease{engine: eng, model: model, refs: 1}
	if model != p.model {
		// SetModel ran during the build, or the caller asked for another model
		p.retireLocked(l)
		return eng, nil
	}
	if p.current != nil {
		p.retireLocked(p.current)
	}
	p.current = l
	return eng, nil
}

func (p *Provider) acquire(model string) *lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.model == model {
		p.current.refs++
		return p.current
	}
	return nil
}

func (p *Provider) construct(ctx context.Context, model string) (Engine, error) {
	p.mu.Lock()
	useMock := p.cfg.Mode == "mock" || p.degraded || p.cfg.Factory == nil
	p.mu.Unlock()
	if useMock {
		return NewMock(model), nil
	}

	eng, err := p.cfg.Factory(ctx, model)
	if err == nil {
		return eng, nil
	}
	if !errors.Is(err, ErrInit) {
		err = fmt.Errorf("%w: %w", ErrInit, err)
	}
	if p.cfg.Mode == "production" {
		return nil, err
	}

	p.mu.Lock()
	p.degraded = true
	warn := !p.warned
	p.warned = true
	p.mu.Unlock()

	if warn {
		p.log.Warn("production engine unavailable, running in mock mode",
			slog.String("model", model),
			slog.String("error", err.Error()))
		if p.cfg.Events != nil {
			p.cfg.Events.Emit(protocol.NewWarning(fmt.Sprintf("Running in MOCK MODE: %v", err)))
		}
	}
	return NewMock(model), nil
}

// Put returns an engine obtained from Get.
func (p *Provider) Put(eng Engine) {
	p.mu.Lock()
	if p.current != nil && p.current.engine == eng {
		p.current.refs--
		p.mu.Unlock()
		return
	}
	for _, l := range p.retired {
		if l.engine == eng {
			l.refs--
			break
		}
	}
	p.mu.Unlock()
	p.Release()
}

// Release closes retired engines nobody is using anymore.
func (p *Provider) Release() {
	p.mu.Lock()
	var closable []*lease
	kept := p.retired[:0]
	for _, l := range p.retired {
		if l.refs <= 0 {
			closable = append(closable, l)
		} else {
			kept = append(kept, l)
		}
	}
	p.retired = kept
	p.mu.Unlock()

	for _, l := range closable {
		if err := l.engine.Close(); err != nil {
			p.log.Warn("close retired engine failed",
				slog.String("model", l.model),
				slog.String("error", err.Error()))
		}
	}
}

func (p *Provider) retireLocked(l *lease) {
	l.retired = true
	p.retired = append(p.retired, l)
}

// Preload builds the engine for the active model ahead of the first request.
func (p *Provider) Preload(ctx context.Context) error {
	eng, err := p.Get(ctx, "")
	if err != nil {
		return err
	}
	p.Put(eng)
	return nil
}

// Status summarises the provider for health reporting.
type Status struct {
	ModelLoaded bool       `json:"model_loaded"`
	Mode        Mode       `json:"mode"`
	ModelName   string     `json:"model_name"`
	Info        *ModelInfo `json:"info,omitempty"`
}

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{ModelName: p.model, Mode: ModeProduction}
	if p.cfg.Mode == "mock" || p.degraded {
		st.Mode = ModeMock
	}
	if p.current != nil {
		st.Mode = p.current.engine.Mode()
		st.ModelLoaded = st.Mode == ModeProduction
		info := p.current.engine.ModelInfo()
		st.Info = &info
	}
	if st.Mode == ModeMock {
		st.ModelName = "none (mock mode)"
	}
	return st
}

// Close retires the cached engine and closes every engine.
func (p *Provider) Close() error {
	p.mu.Lock()
	var all []Engine
	if p.current != nil {
		all = append(all, p.current.engine)
		p.current = nil
	}
	for _, l := range p.retired {
		all = append(all, l.engine)
	}
	p.retired = nil
	p.mu.Unlock()

	var errs []error
	for _, eng := range all {
		if err := eng.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
