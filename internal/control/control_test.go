package control

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) Emit(evt protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func TestReadLinesParsesAndReportsErrors(t *testing.T) {
	input := strings.Join([]string{
		`{"command":"START_LISTENING"}`,
		`garbage`,
		``,
		`{"command":"FLY"}`,
		`{"command":"SET_MODEL","model":"small"}`,
	}, "\n")
	out := make(chan protocol.Command, 8)
	em := &recorder{}
	if err := ReadLines(context.Background(), strings.NewReader(input), out, em, newLogger()); err != nil {
		t.Fatalf("read: %v", err)
	}
	close(out)

	var kinds []protocol.Kind
	for cmd := range out {
		kinds = append(kinds, cmd.Kind)
	}
	want := []protocol.Kind{protocol.StartListening, protocol.SetModel, protocol.Quit}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got %v, want %v", kinds, want)
		}
	}
	if len(em.events) != 2 {
		t.Fatalf("expected 2 error events, got %+v", em.events)
	}
	if !strings.HasPrefix(em.events[0].Message, "Invalid JSON command") {
		t.Fatalf("unexpected decode error message %q", em.events[0].Message)
	}
}

func TestReadLinesStopsAtQuit(t *testing.T) {
	input := "{\"command\":\"QUIT\"}\n{\"command\":\"START_LISTENING\"}\n"
	out := make(chan protocol.Command, 8)
	_ = ReadLines(context.Background(), strings.NewReader(input), out, nil, newLogger())
	close(out)
	var n int
	for range out {
		n++
	}
	if n != 1 {
		t.Fatalf("expected only the quit command, got %d commands", n)
	}
}

func TestReadLinesHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan protocol.Command)
	done := make(chan struct{})
	go func() {
		_ = ReadLines(ctx, strings.NewReader(`{"command":"STOP_LISTENING"}`+"\n"), out, nil, newLogger())
		close(done)
	}()
	<-done
}

func TestReadLinesSkipsOversizedLine(t *testing.T) {
	huge := `{"command":"` + strings.Repeat("x", 2*maxLineBytes) + `"}`
	input := huge + "\n" + `{"command":"START_LISTENING"}` + "\n"
	out := make(chan protocol.Command, 8)
	em := &recorder{}
	if err := ReadLines(context.Background(), strings.NewReader(input), out, em, newLogger()); err != nil {
		t.Fatalf("read: %v", err)
	}
	close(out)

	var kinds []protocol.Kind
	for cmd := range out {
		kinds = append(kinds, cmd.Kind)
	}
	if len(kinds) != 2 || kinds[0] != protocol.StartListening || kinds[1] != protocol.Quit {
		t.Fatalf("expected START_LISTENING then the EOF quit, got %v", kinds)
	}
	if len(em.events) != 1 || !strings.HasPrefix(em.events[0].Message, "Invalid JSON command") {
		t.Fatalf("expected one decode error event, got %+v", em.events)
	}
}

func TestReadLinesAcceptsLastLineWithoutNewline(t *testing.T) {
	out := make(chan protocol.Command, 4)
	_ = ReadLines(context.Background(), strings.NewReader(`{"command":"STOP_LISTENING"}`+"\r\n"+`{"command":"CANCEL_PROCESSING"}`), out, nil, newLogger())
	close(out)
	var kinds []protocol.Kind
	for cmd := range out {
		kinds = append(kinds, cmd.Kind)
	}
	want := []protocol.Kind{protocol.StopListening, protocol.CancelProcessing, protocol.Quit}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got %v, want %v", kinds, want)
		}
	}
}
