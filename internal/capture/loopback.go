package capture

import (
	"errors"
	"sync"
)

// Loopback is a device fed programmatically with Push. It backs headless
// deployments where audio arrives over another transport, and tests.
type Loopback struct {
	mu      sync.Mutex
	cb      Callbacks
	running bool
	opened  bool
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Open(_ Format, cb Callbacks) (Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return nil, errors.New("loopback already open")
	}
	l.cb = cb
	l.opened = true
	return loopbackStream{l}, nil
}

// Push delivers samples to the open stream. It reports whether the stream
// was running.
func (l *Loopback) Push(samples []float32) bool {
	l.mu.Lock()
	running, cb := l.running, l.cb
	l.mu.Unlock()
	if !running || cb.OnBlock == nil {
		return false
	}
	cb.OnBlock(samples)
	return true
}

// Fail reports err as a stream failure.
func (l *Loopback) Fail(err error) {
	l.mu.Lock()
	cb := l.cb
	l.mu.Unlock()
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

type loopbackStream struct{ l *Loopback }

func (s loopbackStream) Start() error {
	s.l.mu.Lock()
	s.l.running = true
	s.l.mu.Unlock()
	return nil
}

func (s loopbackStream) Stop() error {
	s.l.mu.Lock()
	s.l.running = false
	s.l.mu.Unlock()
	return nil
}

func (s loopbackStream) Close() error {
	s.l.mu.Lock()
	s.l.running = false
	s.l.opened = false
	s.l.cb = Callbacks{}
	s.l.mu.Unlock()
	return nil
}
