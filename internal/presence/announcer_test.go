package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	messages []Message
	fail     bool
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, v.(Message))
	if p.fail {
		return errors.New("bus down")
	}
	return nil
}

func (p *recordingPublisher) snapshot() ([]string, []Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...), append([]Message(nil), p.messages...)
}

func TestAnnouncerAnnouncesThenHeartbeats(t *testing.T) {
	pub := &recordingPublisher{}
	mode := "production"
	var mu sync.Mutex
	describe := func() []Capability {
		mu.Lock()
		defer mu.Unlock()
		return []Capability{{Name: "stt", Tier: mode}}
	}
	a := NewAnnouncer(pub, "scribe", "node-1", 10*time.Millisecond, describe, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	mu.Lock()
	mode = "mock"
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		subjects, messages := pub.snapshot()
		if len(subjects) >= 3 {
			if subjects[0] != "scribe.node.announce" {
				t.Fatalf("first message must be the announcement, got %q", subjects[0])
			}
			last := messages[len(messages)-1]
			if subjects[len(subjects)-1] != "scribe.node.heartbeat.node-1" || last.Role != Role {
				t.Fatalf("unexpected heartbeat %q %+v", subjects[len(subjects)-1], last)
			}
			if last.Capabilities[0].Tier != "mock" {
				t.Fatalf("heartbeat must carry current capabilities, got %+v", last.Capabilities)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected announce and heartbeats, got %v", subjects)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestAnnouncerSurvivesPublishFailures(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	a := NewAnnouncer(pub, "scribe", "node-1", 5*time.Millisecond, nil, newLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if subjects, _ := pub.snapshot(); len(subjects) < 2 {
		t.Fatalf("expected publishing to continue after failures, got %d messages", len(subjects))
	}
}
