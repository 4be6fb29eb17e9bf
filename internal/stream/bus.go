package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

const busQueueSize = 32

// BusBridge runs one Session per stream key for audio published on
// <prefix>.stream.audio.<key> and answers on <prefix>.stream.partial.<key>.
type BusBridge struct {
	client  *bus.Client
	prefix  string
	runner  Runner
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*busSession
	wg       sync.WaitGroup
}

type busSession struct {
	session *Session
	chunks  chan []byte
}

func NewBusBridge(client *bus.Client, prefix string, runner Runner, cfg Config, m *metrics.Metrics, log *slog.Logger) *BusBridge {
	return &BusBridge{
		client:   client,
		prefix:   prefix,
		runner:   runner,
		cfg:      cfg,
		metrics:  m,
		log:      log.With(slog.String("component", "stream_bridge")),
		sessions: make(map[string]*busSession),
	}
}

// Serve consumes stream audio until ctx is cancelled, then ends every open
// stream and waits for its worker.
func (b *BusBridge) Serve(ctx context.Context) error {
	subject := protocol.StreamAudioWildcard(b.prefix)
	sub, err := b.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		b.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe stream audio: %w", err)
	}
	b.log.Info("listening for stream audio", slog.String("subject", subject))

	<-ctx.Done()
	err = sub.Unsubscribe()
	b.mu.Lock()
	for key, s := range b.sessions {
		close(s.chunks)
		delete(b.sessions, key)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return err
}

func (b *BusBridge) handle(ctx context.Context, msg *nats.Msg) {
	key := strings.TrimPrefix(msg.Subject, protocol.StreamAudioPrefix(b.prefix))

	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s := b.sessions[key]
	if len(msg.Data) == 0 {
		if s != nil {
			close(s.chunks)
			delete(b.sessions, key)
		}
		return
	}
	if s == nil {
		s = &busSession{
			session: NewSession(b.runner, b.cfg, b.metrics, b.log),
			chunks:  make(chan []byte, busQueueSize),
		}
		b.sessions[key] = s
		b.wg.Add(1)
		go b.work(ctx, key, s)
	}
	select {
	case s.chunks <- msg.Data:
	default:
		b.metrics.RecordStreamWindow(ctx, "dropped")
		b.log.Warn("stream queue full, dropping chunk", slog.String("stream", key))
	}
}

func (b *BusBridge) work(ctx context.Context, key string, s *busSession) {
	defer b.wg.Done()
	b.metrics.StreamOpened(ctx)
	defer b.metrics.StreamClosed(context.Background())

	subject := protocol.StreamPartialSubject(b.prefix, key)
	for chunk := range s.chunks {
		evt, err := s.session.Push(ctx, chunk)
		if err != nil {
			failed := protocol.NewError(err.Error()).WithSession(s.session.ID())
			evt = &failed
		}
		if evt == nil {
			continue
		}
		if err := b.client.PublishJSON(subject, evt); err != nil {
			b.log.Warn("failed to publish partial", slog.String("stream", key), slog.String("error", err.Error()))
		}
	}
	b.log.Debug("stream ended", slog.String("stream", key))
}
