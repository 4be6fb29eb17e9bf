// Package control feeds decoded commands to the dispatcher from the
// configured transport: line-delimited JSON on stdin, or a NATS subject.
package control

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

const maxLineBytes = 1 << 20

// decode parses one command and reports failures as error events.
func decode(line []byte, emitter events.Emitter, log *slog.Logger) (protocol.Command, bool) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		report(err, emitter, log)
		return protocol.Command{}, false
	}
	return cmd, true
}

func report(err error, emitter events.Emitter, log *slog.Logger) {
	log.Warn("invalid command", slog.String("error", err.Error()))
	if emitter == nil {
		return
	}
	msg := err.Error()
	if errors.Is(err, protocol.ErrDecode) {
		msg = fmt.Sprintf("Invalid JSON command: %v", err)
	}
	emitter.Emit(protocol.NewError(msg))
}

// ReadLines reads commands from r until the input ends or ctx is cancelled.
// Malformed and oversized lines are reported and skipped. When the input ends
// a Quit command is sent so the dispatcher releases the device.
func ReadLines(ctx context.Context, r io.Reader, out chan<- protocol.Command, emitter events.Emitter, log *slog.Logger) error {
	log = log.With(slog.String("component", "control"), slog.String("transport", "stdio"))
	br := bufio.NewReader(r)
	for {
		line, tooLong, err := readLine(br)
		switch {
		case tooLong:
			report(fmt.Errorf("%w: line exceeds %d bytes", protocol.ErrDecode, maxLineBytes), emitter, log)
		case len(bytes.TrimSpace(line)) > 0:
			cmd, ok := decode(line, emitter, log)
			if !ok {
				break
			}
			if err := send(ctx, out, cmd); err != nil {
				return nil
			}
			if cmd.Kind == protocol.Quit {
				return nil
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error("control input failed", slog.String("error", err.Error()))
			}
			break
		}
	}
	log.Info("control input closed")
	_ = send(ctx, out, protocol.Command{Kind: protocol.Quit})
	return nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed and discarded, and the second result is true.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) > maxLineBytes+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), tooLong, err
	}
}

func send(ctx context.Context, out chan<- protocol.Command, cmd protocol.Command) error {
	select {
	case out <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
