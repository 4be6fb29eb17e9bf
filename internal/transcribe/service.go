// Package transcribe is the batch entry point shared by the command
// dispatcher and the HTTP API: decode, preprocess, enforce the duration
// policy, then run the engine obtained from the provider.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
)

var (
	ErrEmptyBuffer   = errors.New("no audio recorded")
	ErrAudioTooShort = errors.New("audio too short")
	ErrAudioTooLong  = errors.New("audio too long")
)

// Options controls one transcription.
type Options struct {
	Language    string
	Model       string // empty selects the provider's active model
	Threshold   float64
	TrimSilence bool
	Normalize   bool
	// EnforceMax rejects audio longer than the configured maximum.
	EnforceMax bool
}

type Service struct {
	provider *engine.Provider
	cfg      config.ProcessingConfig
	language string
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *slog.Logger
}

func NewService(provider *engine.Provider, cfg config.ProcessingConfig, language string, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		provider: provider,
		cfg:      cfg,
		language: language,
		metrics:  m,
		tracer:   otel.Tracer("github.com/loqalabs/loqa-scribe/internal/transcribe"),
		log:      log.With(slog.String("component", "transcribe")),
	}
}

// DefaultOptions returns the options used by the HTTP API.
func (s *Service) DefaultOptions() Options {
	return Options{
		Language:    s.language,
		Threshold:   s.cfg.SilenceThreshold,
		TrimSilence: true,
		Normalize:   true,
		EnforceMax:  true,
	}
}

// Transcribe decodes an uploaded payload (WAV, or raw float32 LE at 16 kHz)
// and transcribes it.
func (s *Service) Transcribe(ctx context.Context, data []byte, opts Options) (engine.Result, error) {
	samples, rate, err := Decode(data)
	if err != nil {
		return engine.Result{}, err
	}
	return s.TranscribeSamples(ctx, samples, rate, opts)
}

// Decode turns an uploaded payload into mono samples and their rate.
func Decode(data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyBuffer
	}
	if audio.IsWAV(data) {
		clip, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, 0, err
		}
		return clip.Samples, clip.SampleRate, nil
	}
	samples, err := audio.Float32FromLEStrict(data)
	if err != nil {
		return nil, 0, err
	}
	return samples, engine.SampleRate, nil
}

// TranscribeSamples prepares mono samples at sampleRate and runs the engine.
func (s *Service) TranscribeSamples(ctx context.Context, samples []float32, sampleRate int, opts Options) (engine.Result, error) {
	prepared, err := s.Prepare(samples, sampleRate, opts)
	if err != nil {
		return engine.Result{}, err
	}
	return s.Run(ctx, prepared, opts)
}

// Prepare resamples to the engine rate, trims, applies the duration policy
// and normalises. The engine is never involved.
func (s *Service) Prepare(samples []float32, sampleRate int, opts Options) ([]float32, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyBuffer
	}
	out := audio.Resample(samples, sampleRate, engine.SampleRate)
	if opts.TrimSilence {
		out = audio.Trim(out, opts.Threshold, audio.MarginSamples(engine.SampleRate, s.cfg.TrimMarginMS))
	}

	duration := audio.Duration(out, engine.SampleRate)
	if duration < s.cfg.MinDurationSeconds {
		return nil, fmt.Errorf("%w: %.1fs < %.1fs", ErrAudioTooShort, duration, s.cfg.MinDurationSeconds)
	}
	if opts.EnforceMax && s.cfg.MaxDurationSeconds > 0 && duration > s.cfg.MaxDurationSeconds {
		return nil, fmt.Errorf("%w (%.1fs > %.0fs), use /stream for longer audio", ErrAudioTooLong, duration, s.cfg.MaxDurationSeconds)
	}
	if opts.Normalize {
		out = audio.Normalize(out, s.cfg.NormalizeDBFS)
	}
	return out, nil
}

// Run transcribes samples that are already at the engine rate.
func (s *Service) Run(ctx context.Context, samples []float32, opts Options) (engine.Result, error) {
	language := opts.Language
	if language == "" {
		language = s.language
	}
	eng, err := s.provider.Get(ctx, opts.Model)
	if err != nil {
		return engine.Result{}, err
	}
	defer s.provider.Put(eng)

	ctx, span := s.tracer.Start(ctx, "engine.transcribe", trace.WithAttributes(
		attribute.String("engine.mode", string(eng.Mode())),
		attribute.String("engine.model", eng.ModelInfo().Name),
		attribute.String("language", language),
		attribute.Int("samples", len(samples)),
	))
	defer span.End()

	res, err := eng.Transcribe(ctx, samples, language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordTranscription(ctx, string(eng.Mode()), "error", 0, 0, 0)
		return engine.Result{}, err
	}
	if res.Model == "" {
		res.Model = opts.Model
	}
	span.SetAttributes(attribute.Float64("real_time_factor", res.RealTimeFactor))
	s.metrics.RecordTranscription(ctx, string(res.Mode), "ok", res.DurationSeconds, res.InferenceTimeSeconds, res.RealTimeFactor)
	s.log.Info("transcription complete",
		slog.String("mode", string(res.Mode)),
		slog.Float64("duration_s", res.DurationSeconds),
		slog.Float64("rtf", res.RealTimeFactor))
	return res, nil
}

// Provider exposes the engine provider for status reporting.
func (s *Service) Provider() *engine.Provider { return s.provider }

// MinDuration is the shortest accepted utterance in seconds.
func (s *Service) MinDuration() float64 { return s.cfg.MinDurationSeconds }
