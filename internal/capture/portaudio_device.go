//go:build portaudio

package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portAudioDevice captures from the default input through PortAudio.
type portAudioDevice struct{}

func newPortAudioDevice() (Device, error) {
	return portAudioDevice{}, nil
}

func (portAudioDevice) Name() string { return "portaudio" }

func (portAudioDevice) Open(format Format, cb Callbacks) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	callback := func(in []float32) {
		if cb.OnBlock != nil {
			cb.OnBlock(in)
		}
	}
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), format.BlockSize, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open: %w", err)
	}
	return &portAudioStream{stream: stream}, nil
}

type portAudioStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
}

func (s *portAudioStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *portAudioStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}
