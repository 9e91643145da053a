package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig points a WSSession at a realtime speech provider.
type WSConfig struct {
	URL      string
	APIKey   string
	Language string
	Dialer   *websocket.Dialer
}

// WSSession speaks the provider's JSON websocket protocol: inbound frames
// carry a "type" matching EventType, outbound frames are session_start and
// system_utterance.
type WSSession struct {
	cfg WSConfig

	mu      sync.Mutex
	current *wsConn
}

type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	events    chan Event
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

type wsFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language,omitempty"`
	Text      string `json:"text,omitempty"`
	IsFinal   *bool  `json:"is_final,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewWSSession(cfg WSConfig) *WSSession {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en-US"
	}
	return &WSSession{cfg: cfg}
}

func (s *WSSession) Start(ctx context.Context, sessionID string) (<-chan Event, error) {
	_ = s.Stop()

	u, err := url.Parse(strings.TrimSpace(s.cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("parse speech url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("language", s.cfg.Language)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if key := strings.TrimSpace(s.cfg.APIKey); key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial speech websocket: %d %s: %w", resp.StatusCode, http.StatusText(resp.StatusCode), err)
		}
		return nil, fmt.Errorf("dial speech websocket: %w", err)
	}

	c := &wsConn{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
	}
	if err := c.writeJSON(wsFrame{Type: "session_start", SessionID: sessionID, Language: s.cfg.Language}); err != nil {
		c.close()
		return nil, fmt.Errorf("send session_start: %w", err)
	}

	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	go c.readLoop()
	return c.events, nil
}

// Stop closes the current connection without emitting further events.
func (s *WSSession) Stop() error {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close()
}

func (s *WSSession) SendSystemUtterance(_ context.Context, text string) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.writeJSON(wsFrame{Type: "system_utterance", Text: text})
}

func (c *wsConn) writeJSON(frame wsFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(frame)
}

func (c *wsConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) emit(ev Event) {
	ev.SessionID = c.sessionID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.emit(closeEvent(err))
			_ = c.close()
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if ev, ok := frameEvent(frame); ok {
			c.emit(ev)
		}
	}
}

func frameEvent(f wsFrame) (Event, bool) {
	switch f.Type {
	case "session_started", "session_ended", "speech_started", "speech_ended":
		return Event{Type: EventType(f.Type)}, true
	case "transcript", "partial_transcript", "committed_transcript":
		final := f.Type != "partial_transcript"
		if f.IsFinal != nil {
			final = *f.IsFinal
		}
		return Event{Type: EventTranscript, Text: f.Text, IsFinal: final}, true
	case "error":
		msg := f.Message
		if msg == "" {
			msg = f.Error
		}
		return Event{Type: EventError, Kind: f.Kind, Message: msg}, true
	default:
		return Event{}, false
	}
}

// closeEvent maps a read failure to session_ended for orderly closes and to
// an error event otherwise.
func closeEvent(err error) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return Event{Type: EventSessionEnded}
		case websocket.ClosePolicyViolation:
			return Event{Type: EventError, Kind: "forbidden", Message: ce.Text}
		}
		return Event{Type: EventError, Kind: fmt.Sprintf("close_%d", ce.Code), Message: ce.Text}
	}
	return Event{Type: EventError, Kind: "network", Message: err.Error()}
}
