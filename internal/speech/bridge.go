package speech

import (
	"context"
	"sync"
	"time"
)

// SendFunc delivers a system utterance to an attached client.
type SendFunc func(ctx context.Context, text string) error

const bridgeBuffer = 64

// Bridge relays a browser-side speech session. The browser runs recognition
// and playback and reports events over the app websocket; the server speaks
// through the attached SendFunc.
type Bridge struct {
	mu        sync.Mutex
	sessionID string
	events    chan Event
	send      SendFunc
	dropped   int
}

func NewBridge() *Bridge { return &Bridge{} }

// Start opens a new event channel. session_started is emitted once a client
// is attached.
func (b *Bridge) Start(_ context.Context, sessionID string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	b.sessionID = sessionID
	b.events = make(chan Event, bridgeBuffer)
	if b.send != nil {
		b.emitLocked(newEvent(EventSessionStarted, sessionID))
	}
	return b.events, nil
}

// Stop closes the current event channel. It is idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *Bridge) SendSystemUtterance(ctx context.Context, text string) error {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	return send(ctx, text)
}

// Attach connects a client. A running session reports session_started.
func (b *Bridge) Attach(send SendFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = send
	if b.events != nil {
		b.emitLocked(newEvent(EventSessionStarted, b.sessionID))
	}
}

// Detach disconnects the client. A nil err ends the session normally;
// otherwise the session reports an error of the given kind.
func (b *Bridge) Detach(kind string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = nil
	if b.events == nil {
		return
	}
	if err != nil {
		ev := newEvent(EventError, b.sessionID)
		ev.Kind = kind
		ev.Message = err.Error()
		b.emitLocked(ev)
		return
	}
	b.emitLocked(newEvent(EventSessionEnded, b.sessionID))
}

// Push forwards a client-reported event. It reports false when no session is
// running or the buffer is full.
func (b *Bridge) Push(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		return false
	}
	if ev.SessionID == "" {
		ev.SessionID = b.sessionID
	}
	return b.emitLocked(ev)
}

// Attached reports whether a client is connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send != nil
}

// Dropped counts events discarded because the consumer fell behind.
func (b *Bridge) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bridge) emitLocked(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.events <- ev:
		return true
	default:
		b.dropped++
		return false
	}
}

func (b *Bridge) closeLocked() {
	if b.events != nil {
		close(b.events)
		b.events = nil
	}
}
