package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/control"
	"github.com/loqalabs/loqa-scribe/internal/dispatch"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/presence"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stream"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

const (
	eventQueueSize  = 512
	shutdownTimeout = 10 * time.Second
	streamName      = "SCRIBE_TRANSCRIPTIONS"
	streamMaxAge    = 24 * time.Hour
)

// Version is reported by /status and the CLI.
var Version = "0.1.0"

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer

	httpServer *http.Server
	ready      atomic.Bool
	started    time.Time

	metrics        *metrics.Metrics
	metricsHandler http.Handler
	hub            *events.Hub
	store          *eventstore.Store
	provider       *engine.Provider
	service        *transcribe.Service
	dispatcher     *dispatch.Dispatcher
}

type Option func(*Runtime)

// WithIO replaces stdin and stdout for the stdio control transport.
func WithIO(stdin io.Reader, stdout io.Writer) Option {
	return func(r *Runtime) {
		r.stdin = stdin
		r.stdout = stdout
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start wires every component and blocks until ctx is cancelled or the
// dispatcher receives Quit.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.started = time.Now()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()
	r.metricsHandler = tel.metrics

	r.metrics, err = metrics.New(tel.meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	r.hub = events.NewHub(r.logger, r.metrics, eventQueueSize)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = r.hub.Run(hubCtx)
	}()
	// events must drain before the sinks behind them close
	stopEvents := sync.OnceFunc(func() {
		stopHub()
		<-hubDone
	})
	defer stopEvents()

	if r.cfg.Control.Transport == "stdio" {
		r.hub.Subscribe(events.NewWriterSink(r.stdout))
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer r.store.Close()
	r.hub.Subscribe(events.NewTimelineSink(r.store))

	client, embedded, err := r.connectBus(ctx)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if client != nil {
		defer client.Close()
	}

	r.provider = engine.NewProviderFromConfig(r.cfg.Engine, r.hub, r.logger)
	defer func() {
		if err := r.provider.Close(); err != nil {
			r.logger.Warn("engine close error", slog.String("error", err.Error()))
		}
	}()
	if r.cfg.Engine.Preload {
		if err := r.provider.Preload(ctx); err != nil {
			return fmt.Errorf("failed to preload engine: %w", err)
		}
	}
	r.service = transcribe.NewService(r.provider, r.cfg.Processing, r.cfg.Engine.Language, r.metrics, r.logger)

	device, err := capture.NewDevice(r.cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to create capture device: %w", err)
	}
	controller := capture.NewController(device, capture.FormatFromConfig(r.cfg.Audio),
		r.cfg.Audio.MaxRecordingSeconds, r.hub, r.metrics, r.logger)
	defer controller.Close()

	r.dispatcher = dispatch.New(controller, r.service, r.provider, r.hub, dispatch.Config{
		Threshold: r.cfg.Processing.SilenceThreshold,
		Language:  r.cfg.Engine.Language,
		Model:     r.cfg.Engine.ModelName,
	}, r.logger).WithSessionRecorder(r.store)

	commands := make(chan protocol.Command, r.cfg.Control.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := r.dispatcher.Run(gctx, commands)
		cancel()
		return err
	})

	switch r.cfg.Control.Transport {
	case "stdio":
		// A blocked read on stdin cannot be interrupted, so the reader is not
		// joined; it exits at EOF.
		go func() {
			_ = control.ReadLines(gctx, r.stdin, commands, r.hub, r.logger)
		}()
	case "nats":
		g.Go(func() error {
			return control.ServeNATS(gctx, client, r.cfg.Bus.SubjectPrefix, commands, r.hub, r.logger)
		})
	}

	if client != nil {
		bridge := stream.NewBusBridge(client, r.cfg.Bus.SubjectPrefix, r.service, r.streamConfig(), r.metrics, r.logger)
		g.Go(func() error {
			return bridge.Serve(gctx)
		})
		announcer := presence.NewAnnouncer(client, r.cfg.Bus.SubjectPrefix, r.nodeID(),
			time.Duration(r.cfg.Bus.HeartbeatMS)*time.Millisecond, r.capabilities, r.logger)
		g.Go(func() error {
			return announcer.Run(gctx)
		})
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
		r.logger.Info("http listening", slog.String("addr", addr))
	}

	r.ready.Store(true)
	status := r.provider.Status()
	r.logger.Info("runtime started",
		slog.String("mode", string(status.Mode)),
		slog.String("control", r.cfg.Control.Transport))
	r.hub.Emit(protocol.NewLog(fmt.Sprintf("Backend ready (%s mode)", status.Mode)))

	err = g.Wait()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	stopEvents()
	return err
}

// connectBus starts the embedded broker when configured and connects the
// client. Both are nil when the bus is disabled.
func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, *natsserver.EmbeddedServer, error) {
	if !r.cfg.Bus.Enabled {
		return nil, nil, nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		embedded.Shutdown()
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	prefix := r.cfg.Bus.SubjectPrefix
	subjects := []string{protocol.EventSubject(prefix, protocol.EventTranscription)}
	if err := client.EnsureStream(streamName, subjects, streamMaxAge); err != nil {
		r.logger.Warn("failed to ensure transcription stream", slog.String("error", err.Error()))
	}
	r.hub.Subscribe(events.NewBusSink(client, prefix))
	return client, embedded, nil
}

// Healthy reports whether the runtime finished starting.
func (r *Runtime) Healthy() bool {
	return r.ready.Load()
}

func (r *Runtime) streamConfig() stream.Config {
	return stream.Config{
		WindowSeconds: r.cfg.Streaming.WindowSeconds,
		VADThreshold:  r.cfg.Streaming.VADThreshold,
		Language:      r.cfg.Engine.Language,
	}
}

func (r *Runtime) nodeID() string {
	if r.cfg.Bus.NodeID != "" {
		return r.cfg.Bus.NodeID
	}
	return r.cfg.RuntimeName + "-" + uuid.NewString()[:8]
}

// capabilities describes the node for presence messages.
func (r *Runtime) capabilities() []presence.Capability {
	st := r.provider.Status()
	return []presence.Capability{
		{
			Name: "stt.batch",
			Tier: string(st.Mode),
			Attributes: map[string]string{
				"model":    st.ModelName,
				"language": r.cfg.Engine.Language,
			},
		},
		{
			Name: "stt.stream",
			Tier: string(st.Mode),
			Attributes: map[string]string{
				"window_seconds": strconv.FormatFloat(r.cfg.Streaming.WindowSeconds, 'f', -1, 64),
				"subject":        protocol.StreamAudioWildcard(r.cfg.Bus.SubjectPrefix),
			},
		},
	}
}
