// Package stream implements chunked transcription for a single streaming
// connection: pushed chunks accumulate into a window, and each full window is
// gated for voice and transcribed synchronously.
package stream

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

// Runner transcribes samples already at the engine rate.
type Runner interface {
	Run(ctx context.Context, samples []float32, opts transcribe.Options) (engine.Result, error)
}

type Config struct {
	WindowSeconds float64
	VADThreshold  float64
	Language      string
}

// Session is not safe for concurrent use; one connection drives one session.
type Session struct {
	id      string
	runner  Runner
	cfg     Config
	window  int
	acc     []float32
	partial []byte
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewSession(runner Runner, cfg Config, m *metrics.Metrics, log *slog.Logger) *Session {
	window := int(cfg.WindowSeconds * engine.SampleRate)
	if window <= 0 {
		window = 3 * engine.SampleRate
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		runner:  runner,
		cfg:     cfg,
		window:  window,
		acc:     make([]float32, 0, window),
		metrics: m,
		log:     log.With(slog.String("component", "stream"), slog.String("session_id", id)),
	}
}

func (s *Session) ID() string { return s.id }

// Buffered returns the number of samples waiting for the next window.
func (s *Session) Buffered() int { return len(s.acc) }

// Push appends a chunk of little-endian float32 samples at the engine rate.
// Chunks may split a sample; the leftover bytes are held for the next Push.
// When a full window is available it is gated and, if voiced, transcribed;
// the returned event is nil when nothing was produced. The accumulator is
// cleared after every processing attempt whatever its outcome.
func (s *Session) Push(ctx context.Context, chunk []byte) (*protocol.Event, error) {
	if len(s.partial) > 0 {
		chunk = append(s.partial, chunk...)
		s.partial = nil
	}
	whole := len(chunk) - len(chunk)%audio.BytesPerSample
	if whole < len(chunk) {
		s.partial = append([]byte(nil), chunk[whole:]...)
	}
	s.acc = append(s.acc, audio.Float32FromLE(chunk[:whole])...)
	if len(s.acc) < s.window {
		return nil, nil
	}
	window := s.acc
	defer func() { s.acc = make([]float32, 0, s.window) }()

	if !audio.HasVoice(window, s.cfg.VADThreshold) {
		s.metrics.RecordStreamWindow(ctx, "no_voice")
		return nil, nil
	}

	res, err := s.runner.Run(ctx, window, transcribe.Options{Language: s.cfg.Language})
	if err != nil {
		s.metrics.RecordStreamWindow(ctx, "error")
		s.log.Warn("window transcription failed", slog.String("error", err.Error()))
		return nil, err
	}
	s.metrics.RecordStreamWindow(ctx, "transcribed")
	if strings.TrimSpace(res.Text) == "" {
		return nil, nil
	}
	evt := protocol.NewPartial(res.Text).WithSession(s.id)
	return &evt, nil
}
