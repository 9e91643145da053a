package speech

import (
	"context"
	"sync"
)

// Mock is an in-memory Session driven by the caller.
type Mock struct {
	mu         sync.Mutex
	events     chan Event
	sessionID  string
	starts     int
	utterances []string
	startErr   error
	autoStart  bool
}

// NewMock returns a Mock that reports session_started on every Start.
func NewMock() *Mock { return &Mock{autoStart: true} }

// SetAutoStart controls whether Start emits session_started.
func (m *Mock) SetAutoStart(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoStart = on
}

// SetStartErr makes every following Start fail with err.
func (m *Mock) SetStartErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *Mock) Start(_ context.Context, sessionID string) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.events != nil {
		close(m.events)
	}
	m.sessionID = sessionID
	m.events = make(chan Event, 64)
	if m.autoStart {
		m.events <- newEvent(EventSessionStarted, sessionID)
	}
	return m.events, nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		close(m.events)
		m.events = nil
	}
	return nil
}

func (m *Mock) SendSystemUtterance(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return ErrNotConnected
	}
	m.utterances = append(m.utterances, text)
	return nil
}

// Emit delivers ev on the current channel. It reports false when no session
// is running.
func (m *Mock) Emit(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return false
	}
	if ev.SessionID == "" {
		ev.SessionID = m.sessionID
	}
	if ev.At.IsZero() {
		ev.At = newEvent(ev.Type, "").At
	}
	m.events <- ev
	return true
}

// Say emits a final transcript.
func (m *Mock) Say(text string) bool {
	return m.Emit(Event{Type: EventTranscript, Text: text, IsFinal: true})
}

// End emits session_ended and closes the channel, as a provider hang-up would.
func (m *Mock) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return
	}
	m.events <- newEvent(EventSessionEnded, m.sessionID)
	close(m.events)
	m.events = nil
}

// Fail emits an error event and closes the channel.
func (m *Mock) Fail(kind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		return
	}
	ev := newEvent(EventError, m.sessionID)
	ev.Kind = kind
	ev.Message = message
	m.events <- ev
	close(m.events)
	m.events = nil
}

// Starts counts Start calls, failed ones included.
func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Utterances returns every system utterance sent so far.
func (m *Mock) Utterances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.utterances...)
}
