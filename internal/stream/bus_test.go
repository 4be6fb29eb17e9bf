package stream

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func connectBroker(t *testing.T) *bus.Client {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusBridgePublishesPartialsPerStream(t *testing.T) {
	client := connectBroker(t)
	partials, err := client.Conn().SubscribeSync(protocol.StreamPartialSubject("scribe", "kitchen"))
	if err != nil {
		t.Fatalf("subscribe partials: %v", err)
	}

	bridge := NewBusBridge(client, "scribe", &fakeRunner{},
		Config{WindowSeconds: 0.25, VADThreshold: 0.01, Language: "en"}, nil, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	audioSubject := protocol.StreamAudioSubject("scribe", "kitchen")
	// the subscription is registered asynchronously; keep publishing voiced
	// windows until the first partial arrives
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := client.Conn().Publish(audioSubject, chunk(engine.SampleRate/4, 0.3)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		msg, err := partials.NextMsg(200 * time.Millisecond)
		if err == nil {
			var evt protocol.Event
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				t.Fatalf("decode partial: %v", err)
			}
			if evt.Type != protocol.EventPartial || !strings.HasPrefix(evt.Text, engine.MockMarker) {
				t.Fatalf("unexpected partial %+v", evt)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no partial published")
		}
	}

	if err := client.Conn().Publish(audioSubject, nil); err != nil {
		t.Fatalf("publish end of stream: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
