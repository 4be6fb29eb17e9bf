package control

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

func TestServeNATSForwardsCommands(t *testing.T) {
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

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan protocol.Command, 4)
	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- ServeNATS(ctx, client, cfg.SubjectPrefix, out, rec, newLogger()) }()

	subject := protocol.CommandSubject(cfg.SubjectPrefix)
	deadline := time.After(3 * time.Second)
	var got protocol.Command
	// the subscription starts asynchronously, so keep publishing until one lands
	for received := false; !received; {
		if err := client.Conn().Publish(subject, []byte(`{"command": "STOP_LISTENING"}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case got = <-out:
			received = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("command not forwarded")
		}
	}
	if got.Kind != protocol.StopListening {
		t.Fatalf("unexpected command %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeNATS did not return after cancel")
	}
}
