package capture

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

var ErrDevice = errors.New("capture: device failure")

// Format describes the stream a device delivers.
type Format struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// Callbacks are invoked from the device's own goroutine. OnBlock receives
// interleaved samples and must not block.
type Callbacks struct {
	OnBlock func(samples []float32)
	OnError func(err error)
}

// Device opens input streams.
type Device interface {
	Open(format Format, cb Callbacks) (Stream, error)
	Name() string
}

// Stream is an opened input stream. Start and Stop may be called repeatedly;
// Close releases the underlying handle.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// NewDevice returns the device selected by cfg.
func NewDevice(cfg config.AudioConfig) (Device, error) {
	switch cfg.Device {
	case "exec":
		return NewExecDevice(cfg.Command)
	case "portaudio":
		return newPortAudioDevice()
	case "loopback":
		return NewLoopback(), nil
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Device)
	}
}

// FormatFromConfig extracts the stream format from cfg.
func FormatFromConfig(cfg config.AudioConfig) Format {
	return Format{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BlockSize:  cfg.BlockSize,
	}
}
