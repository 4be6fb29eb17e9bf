// Package events fans outbound protocol events out to the configured sinks
// (stdout, NATS, the session timeline, WebSocket clients). Producers never
// block. Audio level telemetry goes through a bounded queue and is dropped
// when it is full; every other event is kept until a sink takes it.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// Emitter accepts events without blocking.
type Emitter interface {
	Emit(protocol.Event)
}

// Sink receives every event the hub delivers.
type Sink interface {
	Publish(ctx context.Context, evt protocol.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt protocol.Event) error

func (f SinkFunc) Publish(ctx context.Context, evt protocol.Event) error { return f(ctx, evt) }

type Hub struct {
	levels  chan protocol.Event
	log     *slog.Logger
	metrics *metrics.Metrics

	pendingMu sync.Mutex
	pending   []protocol.Event
	wake      chan struct{}

	mu     sync.RWMutex
	sinks  map[int]Sink
	nextID int
}

func NewHub(log *slog.Logger, m *metrics.Metrics, size int) *Hub {
	if size <= 0 {
		size = 256
	}
	return &Hub{
		levels:  make(chan protocol.Event, size),
		wake:    make(chan struct{}, 1),
		log:     log.With(slog.String("component", "events")),
		metrics: m,
		sinks:   make(map[int]Sink),
	}
}

// Subscribe registers a sink and returns a function removing it.
func (h *Hub) Subscribe(s Sink) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.sinks[id] = s
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.sinks, id)
		h.mu.Unlock()
	}
}

// Emit enqueues evt. Audio levels are dropped and counted when their queue is
// full; other events are never dropped.
func (h *Hub) Emit(evt protocol.Event) {
	if evt.Type == protocol.EventAudioLevel {
		select {
		case h.levels <- evt:
		default:
			h.metrics.AddDroppedEvent(context.Background(), string(evt.Type))
		}
		return
	}
	h.pendingMu.Lock()
	h.pending = append(h.pending, evt)
	h.pendingMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is cancelled, then drains whatever is
// still queued so shutdown messages reach the sinks.
func (h *Hub) Run(ctx context.Context) error {
	for {
		h.deliverPending(ctx)
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case <-h.wake:
		case evt := <-h.levels:
			h.deliver(ctx, evt)
		}
	}
}

func (h *Hub) takePending() []protocol.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	batch := h.pending
	h.pending = nil
	return batch
}

func (h *Hub) deliverPending(ctx context.Context) {
	for _, evt := range h.takePending() {
		h.deliver(ctx, evt)
	}
}

func (h *Hub) drain() {
	ctx := context.Background()
	h.deliverPending(ctx)
	for {
		select {
		case evt := <-h.levels:
			h.deliver(ctx, evt)
		default:
			h.deliverPending(ctx)
			return
		}
	}
}

func (h *Hub) deliver(ctx context.Context, evt protocol.Event) {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.sinks))
	for _, s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, evt); err != nil {
			h.log.Warn("event sink failed",
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()))
		}
	}
}
