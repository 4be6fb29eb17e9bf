package engine

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

// MockMarker prefixes every mock transcription.
const MockMarker = "[MOCK TRANSCRIPTION]"

// Mock returns simulated transcriptions without touching a model.
type Mock struct {
	model      string
	sampleRate int
}

func NewMock(model string) *Mock {
	return &Mock{model: model, sampleRate: SampleRate}
}

// Transcribe derives the duration from the float32 byte length of samples and
// reports an inference time of half of it.
func (m *Mock) Transcribe(ctx context.Context, samples []float32, language string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	byteLen := len(samples) * audio.BytesPerSample
	duration := float64(byteLen) / float64(m.sampleRate*audio.BytesPerSample)
	inference := duration * 0.5
	text := fmt.Sprintf("%s This is a simulated transcription for testing. Language: %s", MockMarker, language)
	res := NewResult(text, language, ModeMock, duration, inference, inference)
	res.Model = m.model
	return res, nil
}

func (m *Mock) ModelInfo() ModelInfo {
	return ModelInfo{
		Name:       "none (mock mode)",
		SampleRate: m.sampleRate,
		Backend:    string(ModeMock),
	}
}

func (m *Mock) Mode() Mode { return ModeMock }

func (m *Mock) Close() error { return nil }
