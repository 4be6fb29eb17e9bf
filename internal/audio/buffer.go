package audio

import "sync"

// Buffer is a bounded, mutex-guarded store of mono float32 samples. When an
// append would exceed capacity the oldest samples are evicted so the most
// recent audio is always retained.
type Buffer struct {
	mu       sync.Mutex
	data     []float32
	capacity int
}

// NewBuffer allocates a buffer holding at most capacity samples. The backing
// array is allocated once so appends from the capture callback never allocate.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data:     make([]float32, 0, capacity),
		capacity: capacity,
	}
}

// Append adds samples and returns how many old samples were evicted.
func (b *Buffer) Append(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(samples) >= b.capacity {
		dropped := len(b.data) + len(samples) - b.capacity
		b.data = append(b.data[:0], samples[len(samples)-b.capacity:]...)
		return dropped
	}

	dropped := len(b.data) + len(samples) - b.capacity
	if dropped > 0 {
		n := copy(b.data, b.data[dropped:])
		b.data = b.data[:n]
	} else {
		dropped = 0
	}
	b.data = append(b.data, samples...)
	return dropped
}

// Snapshot returns an independent copy of the current contents.
func (b *Buffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.data))
	copy(out, b.data)
	return out
}

// Clear empties the buffer without releasing its backing array.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Cap() int { return b.capacity }
