// Package presence advertises this node and its transcription capabilities
// on the bus so hubs can discover it.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

const Role = "stt"

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Message is published on announce and on every heartbeat. Heartbeats
// repeat the capabilities so a switch to mock mode reaches listeners.
type Message struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Announcer struct {
	pub      Publisher
	prefix   string
	nodeID   string
	interval time.Duration
	describe func() []Capability
	log      *slog.Logger
}

func NewAnnouncer(pub Publisher, prefix, nodeID string, interval time.Duration, describe func() []Capability, log *slog.Logger) *Announcer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Announcer{
		pub:      pub,
		prefix:   prefix,
		nodeID:   nodeID,
		interval: interval,
		describe: describe,
		log:      log.With(slog.String("component", "presence"), slog.String("node_id", nodeID)),
	}
}

// Run announces the node, then publishes heartbeats until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.pub.PublishJSON(protocol.NodeAnnounceSubject(a.prefix), a.message()); err != nil {
		a.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	subject := protocol.NodeHeartbeatSubject(a.prefix, a.nodeID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.pub.PublishJSON(subject, a.message()); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Announcer) message() Message {
	msg := Message{NodeID: a.nodeID, Role: Role, Timestamp: time.Now().UTC()}
	if a.describe != nil {
		msg.Capabilities = a.describe()
	}
	return msg
}
