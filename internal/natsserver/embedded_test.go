package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartDisabledReturnsNil(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Enabled = false
	srv, err := Start(cfg, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v err=%v", srv, err)
	}
	srv.Shutdown()
}
