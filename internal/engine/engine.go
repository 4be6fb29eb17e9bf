// Package engine turns mono 16 kHz float32 audio into text. A Production
// engine wraps a numeric inference backend (whisper.cpp bindings or an
// external command); a Mock engine fabricates deterministic results so the
// rest of the pipeline runs without model artifacts. Provider owns engine
// construction and falls back to Mock when Production cannot be built.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// SampleRate is the rate every engine expects its input at.
const SampleRate = 16000

var (
	ErrInit           = errors.New("engine: initialization failed")
	ErrInference      = errors.New("engine: inference failed")
	ErrNotInitialized = errors.New("engine: not initialized")
)

type Mode string

const (
	ModeMock       Mode = "mock"
	ModeProduction Mode = "production"
)

// Result is the outcome of one transcription. Build it with NewResult so
// RealTimeFactor stays consistent with the timings.
type Result struct {
	Text                 string
	Language             string
	Model                string
	Mode                 Mode
	DurationSeconds      float64
	InferenceTimeSeconds float64
	TotalTimeSeconds     float64
	RealTimeFactor       float64
	Timestamp            time.Time
}

// NewResult computes RealTimeFactor as inference/duration, or 0 when the
// audio has no duration.
func NewResult(text, language string, mode Mode, duration, inference, total float64) Result {
	rtf := 0.0
	if duration > 0 {
		rtf = inference / duration
	}
	return Result{
		Text:                 text,
		Language:             language,
		Mode:                 mode,
		DurationSeconds:      duration,
		InferenceTimeSeconds: inference,
		TotalTimeSeconds:     total,
		RealTimeFactor:       rtf,
		Timestamp:            time.Now(),
	}
}

// Transcript converts r to its wire form.
func (r Result) Transcript() protocol.Transcript {
	return protocol.Transcript{
		Text:                 r.Text,
		Language:             r.Language,
		Model:                r.Model,
		Mode:                 string(r.Mode),
		DurationSeconds:      r.DurationSeconds,
		InferenceTimeSeconds: r.InferenceTimeSeconds,
		TotalTimeSeconds:     r.TotalTimeSeconds,
		RealTimeFactor:       r.RealTimeFactor,
		Timestamp:            r.Timestamp,
	}
}

type ModelInfo struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	SampleRate     int    `json:"sample_rate"`
	RuntimeVersion string `json:"runtime_version"`
	ThreadCount    int    `json:"thread_count"`
	Backend        string `json:"backend"`
}

// Engine transcribes mono SampleRate audio.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) (Result, error)
	ModelInfo() ModelInfo
	Mode() Mode
	Close() error
}
