package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecode         = errors.New("protocol: malformed command")
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Kind names a control command on the wire.
type Kind string

const (
	StartListening      Kind = "START_LISTENING"
	StopListening       Kind = "STOP_LISTENING"
	ProcessAudio        Kind = "PROCESS_AUDIO"
	CancelProcessing    Kind = "CANCEL_PROCESSING"
	SetModel            Kind = "SET_MODEL"
	SetSilenceThreshold Kind = "SET_SILENCE_THRESHOLD"
	Quit                Kind = "QUIT"
)

const (
	DefaultModel            = "base"
	DefaultSilenceThreshold = 0.01
)

// Command is a decoded control instruction. Only SetModel carries Model and
// only SetSilenceThreshold carries Threshold.
type Command struct {
	Kind      Kind    `json:"command"`
	Model     string  `json:"model,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type rawCommand struct {
	Command   string   `json:"command"`
	Model     *string  `json:"model"`
	Threshold *float64 `json:"threshold"`
}

// ParseCommand decodes one line of the control channel. Missing SET_MODEL and
// SET_SILENCE_THRESHOLD arguments fall back to DefaultModel and
// DefaultSilenceThreshold.
func ParseCommand(line []byte) (Command, error) {
	var raw rawCommand
	if err := json.Unmarshal(line, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	kind := Kind(strings.ToUpper(strings.TrimSpace(raw.Command)))
	switch kind {
	case StartListening, StopListening, ProcessAudio, CancelProcessing, Quit:
		return Command{Kind: kind}, nil
	case SetModel:
		model := DefaultModel
		if raw.Model != nil && strings.TrimSpace(*raw.Model) != "" {
			model = strings.TrimSpace(*raw.Model)
		}
		return Command{Kind: kind, Model: model}, nil
	case SetSilenceThreshold:
		threshold := DefaultSilenceThreshold
		if raw.Threshold != nil {
			threshold = *raw.Threshold
		}
		if threshold < 0 {
			return Command{}, fmt.Errorf("%w: threshold must be >= 0", ErrDecode)
		}
		return Command{Kind: kind, Threshold: threshold}, nil
	case "":
		return Command{}, fmt.Errorf("%w: missing command field", ErrDecode)
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, raw.Command)
	}
}

func (c Command) String() string {
	switch c.Kind {
	case SetModel:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Model)
	case SetSilenceThreshold:
		return fmt.Sprintf("%s(%g)", c.Kind, c.Threshold)
	default:
		return string(c.Kind)
	}
}
