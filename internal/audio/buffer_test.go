package audio

import (
	"sync"
	"testing"
)

func seq(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestBufferNeverExceedsCapacityAndKeepsNewest(t *testing.T) {
	b := NewBuffer(10)
	next := 0
	for _, n := range []int{3, 4, 5, 1, 9, 2, 10, 13, 0, 7} {
		b.Append(seq(next, n))
		next += n

		if b.Len() > b.Cap() {
			t.Fatalf("len %d exceeds capacity %d", b.Len(), b.Cap())
		}
		snap := b.Snapshot()
		// the tail must always be the most recently appended samples
		for i := range snap {
			want := float32(next - len(snap) + i)
			if snap[i] != want {
				t.Fatalf("after appending up to %d: snap[%d] = %v, want %v", next, i, snap[i], want)
			}
		}
	}
}

func TestBufferAppendReportsEvictions(t *testing.T) {
	b := NewBuffer(4)
	if dropped := b.Append(seq(0, 3)); dropped != 0 {
		t.Fatalf("expected no eviction, got %d", dropped)
	}
	if dropped := b.Append(seq(3, 3)); dropped != 2 {
		t.Fatalf("expected 2 evictions, got %d", dropped)
	}
	if dropped := b.Append(seq(6, 6)); dropped != 6 {
		t.Fatalf("expected 6 evictions for oversized append, got %d", dropped)
	}
	snap := b.Snapshot()
	if len(snap) != 4 || snap[0] != 8 || snap[3] != 11 {
		t.Fatalf("unexpected contents %v", snap)
	}
}

func TestBufferSnapshotIsIndependent(t *testing.T) {
	b := NewBuffer(8)
	b.Append([]float32{1, 2, 3})
	snap := b.Snapshot()
	snap[0] = 42
	if got := b.Snapshot()[0]; got != 1 {
		t.Fatalf("snapshot aliased buffer storage, got %v", got)
	}
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after clear")
	}
	if len(snap) != 3 {
		t.Fatalf("clear must not affect earlier snapshots")
	}
}

func TestBufferConcurrentAppendAndSnapshot(t *testing.T) {
	b := NewBuffer(1024)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		block := make([]float32, 256)
		for range 500 {
			b.Append(block)
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			if n := len(b.Snapshot()); n > 1024 {
				t.Errorf("snapshot of %d samples exceeds capacity", n)
				return
			}
			if b.Len() == 0 {
				b.Clear()
			}
		}
	}()
	wg.Wait()
}
