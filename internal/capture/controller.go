// Package capture owns the microphone stream and the bounded recording
// buffer. The device callback appends into the buffer and reports the block
// level; the command dispatcher is the only caller of Start and Stop.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/metrics"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

type Controller struct {
	mu     sync.Mutex
	device Device
	stream Stream
	format Format

	buffer    *audio.Buffer
	listening atomic.Bool
	errs      chan error

	events  events.Emitter
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewController creates a controller whose buffer holds maxSeconds of mono
// audio at format.SampleRate.
func NewController(device Device, format Format, maxSeconds int, emitter events.Emitter, m *metrics.Metrics, log *slog.Logger) *Controller {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &Controller{
		device:  device,
		format:  format,
		buffer:  audio.NewBuffer(maxSeconds * format.SampleRate),
		errs:    make(chan error, 1),
		events:  emitter,
		metrics: m,
		log:     log.With(slog.String("component", "capture"), slog.String("device", device.Name())),
	}
}

// Start clears the buffer and starts the stream, opening it on first use.
// Calling Start while listening is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening.Load() {
		return nil
	}
	c.buffer.Clear()
	if c.stream == nil {
		stream, err := c.device.Open(c.format, Callbacks{OnBlock: c.onBlock, OnError: c.onError})
		if err != nil {
			return fmt.Errorf("%w: open: %w", ErrDevice, err)
		}
		c.stream = stream
	}
	c.listening.Store(true)
	if err := c.stream.Start(); err != nil {
		c.listening.Store(false)
		return fmt.Errorf("%w: start: %w", ErrDevice, err)
	}
	c.log.Info("capture started", slog.Int("sample_rate", c.format.SampleRate))
	return nil
}

// Stop halts the stream and keeps the handle for the next Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening.Swap(false) {
		return nil
	}
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("%w: stop: %w", ErrDevice, err)
	}
	c.log.Info("capture stopped", slog.Int("buffered_samples", c.buffer.Len()))
	return nil
}

// Close stops capture and releases the stream handle.
func (c *Controller) Close() error {
	stopErr := c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return stopErr
	}
	err := c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("%w: close: %w", ErrDevice, err)
	}
	return stopErr
}

func (c *Controller) Listening() bool { return c.listening.Load() }

// Snapshot copies the buffered mono audio.
func (c *Controller) Snapshot() []float32 { return c.buffer.Snapshot() }

func (c *Controller) SampleRate() int { return c.format.SampleRate }

// Errors delivers asynchronous stream failures wrapped in ErrDevice.
func (c *Controller) Errors() <-chan error { return c.errs }

func (c *Controller) onBlock(samples []float32) {
	if !c.listening.Load() {
		return
	}
	mono := audio.Downmix(samples, c.format.Channels)
	if dropped := c.buffer.Append(mono); dropped > 0 {
		c.metrics.AddDroppedSamples(context.Background(), dropped)
	}
	if c.events != nil {
		c.events.Emit(protocol.NewAudioLevel(audio.MeanAbs(mono)))
	}
}

func (c *Controller) onError(err error) {
	if !c.listening.Load() {
		return
	}
	select {
	case c.errs <- fmt.Errorf("%w: %w", ErrDevice, err):
	default:
	}
}
