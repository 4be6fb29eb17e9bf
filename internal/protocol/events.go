package protocol

import (
	"time"
)

// EventType tags outbound events.
type EventType string

const (
	EventLog           EventType = "log"
	EventError         EventType = "error"
	EventWarning       EventType = "warning"
	EventAudioLevel    EventType = "audio_level"
	EventTranscription EventType = "transcription"
	EventPartial       EventType = "partial"
	EventState         EventType = "state"

	// Speech synthesis events share the wire format but are produced by the
	// TTS bridge, never by this service.
	EventSpeechStarted  EventType = "speech_started"
	EventSpeechFinished EventType = "speech_finished"
	EventWordBoundary   EventType = "word_boundary"
	EventVoicesList     EventType = "voices_list"
)

// Event is a single JSON message on the outbound event stream.
type Event struct {
	Type      EventType   `json:"type"`
	Message   string      `json:"message,omitempty"`
	Text      string      `json:"text,omitempty"`
	Level     *float64    `json:"level,omitempty"`
	State     string      `json:"state,omitempty"`
	Result    *Transcript `json:"result,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp float64     `json:"timestamp,omitempty"`
}

// Transcript carries the measurements of a finished transcription.
type Transcript struct {
	Text                 string    `json:"text"`
	Language             string    `json:"language"`
	Model                string    `json:"model,omitempty"`
	Mode                 string    `json:"mode"`
	DurationSeconds      float64   `json:"duration_seconds"`
	InferenceTimeSeconds float64   `json:"inference_time_seconds"`
	TotalTimeSeconds     float64   `json:"total_time_seconds"`
	RealTimeFactor       float64   `json:"real_time_factor"`
	Timestamp            time.Time `json:"timestamp"`
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func NewLog(message string) Event {
	return Event{Type: EventLog, Message: message, Timestamp: now()}
}

func NewError(message string) Event {
	return Event{Type: EventError, Message: message, Timestamp: now()}
}

func NewWarning(message string) Event {
	return Event{Type: EventWarning, Message: message, Timestamp: now()}
}

// NewAudioLevel reports the mean absolute amplitude of a captured block. Level
// events are high frequency and carry no timestamp.
func NewAudioLevel(level float64) Event {
	return Event{Type: EventAudioLevel, Level: &level}
}

func NewTranscription(t Transcript) Event {
	return Event{Type: EventTranscription, Text: t.Text, Result: &t, Timestamp: now()}
}

func NewPartial(text string) Event {
	return Event{Type: EventPartial, Text: text, Timestamp: now()}
}

func NewState(state string) Event {
	return Event{Type: EventState, State: state, Timestamp: now()}
}

// WithSession returns a copy of e tagged with sessionID.
func (e Event) WithSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

// Persistent reports whether the event belongs in the session timeline.
func (e Event) Persistent() bool {
	return e.Type != EventAudioLevel
}
