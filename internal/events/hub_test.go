package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recordingSink) Publish(_ context.Context, evt protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	hub := NewHub(newLogger(), nil, 2)
	done := make(chan struct{})
	go func() {
		for range 100 {
			hub.Emit(protocol.NewAudioLevel(0.1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with no consumer running")
	}
}

func TestHubDeliversAndDrainsOnShutdown(t *testing.T) {
	hub := NewHub(newLogger(), nil, 16)
	sink := &recordingSink{}
	hub.Subscribe(sink)
	failing := SinkFunc(func(context.Context, protocol.Event) error { return errors.New("boom") })
	hub.Subscribe(failing)

	hub.Emit(protocol.NewLog("one"))
	hub.Emit(protocol.NewLog("two"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hub.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 drained events, got %d", sink.count())
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(newLogger(), nil, 16)
	sink := &recordingSink{}
	unsubscribe := hub.Subscribe(sink)
	unsubscribe()
	hub.Emit(protocol.NewLog("ignored"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = hub.Run(ctx)
	if sink.count() != 0 {
		t.Fatalf("unsubscribed sink received %d events", sink.count())
	}
}

func TestWriterSinkWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	_ = sink.Publish(context.Background(), protocol.NewError("bad"))
	_ = sink.Publish(context.Background(), protocol.NewPartial("hi"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var evt protocol.Event
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != protocol.EventError || evt.Message != "bad" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

type fakePublisher struct {
	subjects []string
}

func (f *fakePublisher) PublishJSON(subject string, _ any) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestBusSinkSubject(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewBusSink(pub, "scribe")
	_ = sink.Publish(context.Background(), protocol.NewLog("x"))
	if len(pub.subjects) != 1 || pub.subjects[0] != "scribe.event.log" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
}

type fakeRecorder struct {
	types []protocol.EventType
}

func (f *fakeRecorder) RecordEvent(_ context.Context, evt protocol.Event) error {
	f.types = append(f.types, evt.Type)
	return nil
}

func TestTimelineSinkSkipsAudioLevels(t *testing.T) {
	rec := &fakeRecorder{}
	sink := NewTimelineSink(rec)
	_ = sink.Publish(context.Background(), protocol.NewAudioLevel(0.3))
	_ = sink.Publish(context.Background(), protocol.NewLog("kept"))
	if len(rec.types) != 1 || rec.types[0] != protocol.EventLog {
		t.Fatalf("unexpected recorded types %v", rec.types)
	}
}

func TestHubKeepsTranscriptionBehindLevelBacklog(t *testing.T) {
	hub := NewHub(newLogger(), nil, 8)
	release := make(chan struct{})
	sink := &recordingSink{}
	hub.Subscribe(SinkFunc(func(ctx context.Context, evt protocol.Event) error {
		<-release
		return sink.Publish(ctx, evt)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	for range 20 {
		hub.Emit(protocol.NewAudioLevel(0.2))
	}
	hub.Emit(protocol.NewTranscription(protocol.Transcript{Text: "hello", Language: "en"}))
	hub.Emit(protocol.NewError("after"))

	close(release)
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var transcriptions, errs, levels int
	for _, evt := range sink.events {
		switch evt.Type {
		case protocol.EventTranscription:
			transcriptions++
		case protocol.EventError:
			errs++
		case protocol.EventAudioLevel:
			levels++
		}
	}
	if transcriptions != 1 || errs != 1 {
		t.Fatalf("expected transcription and error delivered, got transcriptions=%d errors=%d", transcriptions, errs)
	}
	if levels > 9 {
		t.Fatalf("level backlog should be bounded, delivered %d", levels)
	}
}
