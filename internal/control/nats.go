package control

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// ServeNATS receives commands on <prefix>.control.command until ctx is
// cancelled. Commands are dropped with an error event when the dispatcher
// queue is full, so the NATS delivery goroutine never blocks.
func ServeNATS(ctx context.Context, client *bus.Client, prefix string, out chan<- protocol.Command, emitter events.Emitter, log *slog.Logger) error {
	log = log.With(slog.String("component", "control"), slog.String("transport", "nats"))
	subject := protocol.CommandSubject(prefix)
	sub, err := client.Subscribe(subject, func(data []byte) {
		cmd, ok := decode(data, emitter, log)
		if !ok {
			return
		}
		select {
		case out <- cmd:
		default:
			log.Warn("command queue full, dropping command", slog.String("command", cmd.String()))
			if emitter != nil {
				emitter.Emit(protocol.NewError("Command queue full, dropped " + string(cmd.Kind)))
			}
		}
	})
	if err != nil {
		return err
	}
	log.Info("listening for commands", slog.String("subject", subject))
	<-ctx.Done()
	return sub.Unsubscribe()
}
