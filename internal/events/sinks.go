package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// WriterSink writes each event as one line of JSON.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Publish(_ context.Context, evt protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(evt)
}

// Publisher is the subset of the bus client used to forward events.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink publishes every event on <prefix>.event.<type>.
type BusSink struct {
	pub    Publisher
	prefix string
}

func NewBusSink(pub Publisher, prefix string) *BusSink {
	return &BusSink{pub: pub, prefix: prefix}
}

func (s *BusSink) Publish(_ context.Context, evt protocol.Event) error {
	return s.pub.PublishJSON(protocol.EventSubject(s.prefix, evt.Type), evt)
}

// Recorder is the subset of the event store used to persist the timeline.
type Recorder interface {
	RecordEvent(ctx context.Context, evt protocol.Event) error
}

// TimelineSink persists every event except audio levels.
type TimelineSink struct {
	rec Recorder
}

func NewTimelineSink(rec Recorder) *TimelineSink {
	return &TimelineSink{rec: rec}
}

func (s *TimelineSink) Publish(ctx context.Context, evt protocol.Event) error {
	if !evt.Persistent() {
		return nil
	}
	return s.rec.RecordEvent(ctx, evt)
}
