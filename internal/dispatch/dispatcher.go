// Package dispatch serialises control commands against the capture device and
// the transcription engine. A single loop goroutine owns the session state;
// inference runs on one worker goroutine whose outcome is handed back to the
// loop, so the loop alone performs every state transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/events"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

// Capture is the audio side the dispatcher drives.
type Capture interface {
	Start() error
	Stop() error
	Close() error
	Snapshot() []float32
	SampleRate() int
	Errors() <-chan error
}

// Transcriber prepares and transcribes utterances.
type Transcriber interface {
	Prepare(samples []float32, sampleRate int, opts transcribe.Options) ([]float32, error)
	Run(ctx context.Context, samples []float32, opts transcribe.Options) (engine.Result, error)
}

// Models receives model switches and reclaims retired engines.
type Models interface {
	SetModel(name string)
	Release()
}

// SessionRecorder is told about every new capture session.
type SessionRecorder interface {
	OpenSession(ctx context.Context, sessionID, kind string) error
}

type Config struct {
	Threshold float64
	Language  string
	Model     string
}

type outcome struct {
	result    engine.Result
	err       error
	cancelled bool
}

type Dispatcher struct {
	capture  Capture
	svc      Transcriber
	models   Models
	events   events.Emitter
	sessions SessionRecorder
	log      *slog.Logger

	state atomic.Int32

	// loop-owned
	threshold float64
	language  string
	model     string
	inflight  bool
	cancel    *atomic.Bool
	sessionID string
	results   chan outcome
}

func New(capture Capture, svc Transcriber, models Models, emitter events.Emitter, cfg Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		capture:   capture,
		svc:       svc,
		models:    models,
		events:    emitter,
		log:       log.With(slog.String("component", "dispatcher")),
		threshold: cfg.Threshold,
		language:  cfg.Language,
		model:     cfg.Model,
		results:   make(chan outcome, 1),
	}
}

// WithSessionRecorder registers rec for new capture sessions.
func (d *Dispatcher) WithSessionRecorder(rec SessionRecorder) *Dispatcher {
	d.sessions = rec
	return d
}

// State returns the current state; safe from any goroutine.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Run consumes commands until Quit, the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, commands <-chan protocol.Command) error {
	d.log.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case cmd, ok := <-commands:
			if !ok {
				d.shutdown()
				return nil
			}
			if cmd.Kind == protocol.Quit {
				d.shutdown()
				return nil
			}
			d.handle(ctx, cmd)
		case out := <-d.results:
			d.finish(out)
		case err := <-d.capture.Errors():
			d.deviceFailed(err)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, cmd protocol.Command) {
	d.log.Debug("command received", slog.String("command", cmd.String()))
	switch cmd.Kind {
	case protocol.StartListening:
		d.startListening(ctx)
	case protocol.StopListening:
		if d.State() != Listening {
			return
		}
		if err := d.capture.Stop(); err != nil {
			d.emitError(err)
		}
		d.setState(Idle)
		d.emit(protocol.NewLog("Stopped listening"))
	case protocol.ProcessAudio:
		d.processAudio(ctx)
	case protocol.CancelProcessing:
		if d.State() != Processing || d.cancel == nil {
			return
		}
		d.cancel.Store(true)
		d.setState(Cancelled)
		d.emit(protocol.NewLog("Cancelling processing"))
	case protocol.SetModel:
		d.model = cmd.Model
		d.models.SetModel(cmd.Model)
		d.emit(protocol.NewLog("Model set to: " + cmd.Model))
	case protocol.SetSilenceThreshold:
		d.threshold = cmd.Threshold
		d.emit(protocol.NewLog(fmt.Sprintf("Silence threshold set to: %g", cmd.Threshold)))
	}
}

func (d *Dispatcher) startListening(ctx context.Context) {
	switch d.State() {
	case Listening:
		return
	case Processing, Cancelled:
		d.emit(protocol.NewLog("Still processing, start listening ignored"))
		return
	}
	d.sessionID = uuid.NewString()
	if err := d.capture.Start(); err != nil {
		d.emitError(err)
		return
	}
	if d.sessions != nil {
		if err := d.sessions.OpenSession(ctx, d.sessionID, "capture"); err != nil {
			d.log.Warn("record session failed", slog.String("error", err.Error()))
		}
	}
	d.setState(Listening)
	d.emit(protocol.NewLog("Started listening"))
}

func (d *Dispatcher) processAudio(ctx context.Context) {
	if d.inflight {
		d.log.Debug("process audio ignored, worker outstanding")
		return
	}
	if d.State() == Listening {
		if err := d.capture.Stop(); err != nil {
			d.emitError(err)
		}
	}

	samples := d.capture.Snapshot()
	if len(samples) == 0 {
		d.setState(Idle)
		d.emitError(transcribe.ErrEmptyBuffer)
		return
	}

	rate := d.capture.SampleRate()
	d.emit(protocol.NewLog(fmt.Sprintf("Processing %.1f seconds of audio", float64(len(samples))/float64(rate))))
	d.setState(Processing)

	opts := transcribe.Options{
		Language:    d.language,
		Model:       d.model,
		Threshold:   d.threshold,
		TrimSilence: true,
	}
	cancel := &atomic.Bool{}
	d.cancel = cancel
	d.inflight = true
	go d.work(ctx, samples, rate, opts, cancel)
}

// work runs on the worker goroutine. Cancellation is checked before and
// after the engine call; a running inference is not interrupted.
func (d *Dispatcher) work(ctx context.Context, samples []float32, rate int, opts transcribe.Options, cancel *atomic.Bool) {
	prepared, err := d.svc.Prepare(samples, rate, opts)
	if err != nil {
		d.results <- outcome{err: err}
		return
	}
	if cancel.Load() {
		d.results <- outcome{cancelled: true}
		return
	}
	res, err := d.svc.Run(ctx, prepared, opts)
	if cancel.Load() {
		d.results <- outcome{cancelled: true}
		return
	}
	d.results <- outcome{result: res, err: err}
}

func (d *Dispatcher) finish(out outcome) {
	d.inflight = false
	d.cancel = nil

	switch {
	case out.cancelled:
		d.emit(protocol.NewLog("Processing cancelled"))
	case out.err != nil:
		d.emitError(out.err)
	case strings.TrimSpace(out.result.Text) == "":
		d.emit(protocol.NewLog("No speech detected"))
	default:
		d.emit(protocol.NewTranscription(out.result.Transcript()))
	}

	if s := d.State(); s == Processing || s == Cancelled {
		d.setState(Idle)
	}
	d.models.Release()
}

func (d *Dispatcher) deviceFailed(err error) {
	if d.State() == Listening {
		if stopErr := d.capture.Stop(); stopErr != nil {
			d.log.Warn("stop after device failure", slog.String("error", stopErr.Error()))
		}
		d.setState(Idle)
	}
	d.emitError(err)
}

// shutdown releases capture and flags any outstanding worker; it does not
// wait for the worker.
func (d *Dispatcher) shutdown() {
	if err := d.capture.Close(); err != nil {
		d.log.Warn("close capture", slog.String("error", err.Error()))
	}
	if d.cancel != nil {
		d.cancel.Store(true)
	}
	d.setState(Idle)
	d.emit(protocol.NewLog("Backend shutting down"))
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) setState(s State) {
	if State(d.state.Swap(int32(s))) == s {
		return
	}
	d.emit(protocol.NewState(s.String()))
}

func (d *Dispatcher) emit(evt protocol.Event) {
	if d.events == nil {
		return
	}
	d.events.Emit(evt.WithSession(d.sessionID))
}

func (d *Dispatcher) emitError(err error) {
	d.log.Warn("command failed", slog.String("error", err.Error()))
	msg := err.Error()
	if errors.Is(err, transcribe.ErrEmptyBuffer) {
		msg = "No audio recorded"
	}
	d.emit(protocol.NewError(msg))
}
