// Package speech defines the realtime speech session the conversation runs
// on, plus its implementations: a browser relay, a websocket provider client
// and an in-memory mock.
package speech

import (
	"context"
	"errors"
	"time"
)

// EventType identifies a speech session event.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"
	// EventSpeechStarted and EventSpeechEnded bracket system playback.
	EventSpeechStarted EventType = "speech_started"
	EventSpeechEnded   EventType = "speech_ended"
	EventError         EventType = "error"
	EventTranscript    EventType = "transcript"
)

// Event is one immutable session event.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	IsFinal   bool      `json:"is_final,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// ErrNotConnected is returned when an utterance cannot be delivered.
var ErrNotConnected = errors.New("speech session not connected")

// Session is a restartable realtime speech session. Every Start returns a
// fresh event channel that is closed when that connection ends.
type Session interface {
	Start(ctx context.Context, sessionID string) (<-chan Event, error)
	Stop() error
	SendSystemUtterance(ctx context.Context, text string) error
}

func newEvent(t EventType, sessionID string) Event {
	return Event{Type: t, SessionID: sessionID, At: time.Now().UTC()}
}
