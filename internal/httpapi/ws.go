package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecart/internal/intent"
	"github.com/ent0n29/voicecart/internal/protocol"
	"github.com/ent0n29/voicecart/internal/speech"
	"github.com/ent0n29/voicecart/internal/voice"
)

const (
	wsReadTimeout   = 120 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsDeliverWait   = 600 * time.Millisecond
	wsOutboundQueue = 256
)

var errClientBusy = errors.New("websocket client not draining")

// wsClient is the outbound half of one browser connection. Every write goes
// through the single writer goroutine reading outbound.
type wsClient struct {
	sessionID string
	outbound  chan any
	done      chan struct{}
}

func (c *wsClient) deliver(ctx context.Context, msg any) error {
	timer := time.NewTimer(wsDeliverWait)
	defer timer.Stop()
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return speech.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errClientBusy
	}
}

// trySend queues msg without waiting.
func (c *wsClient) trySend(msg any) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

// SendCommand forwards a storefront command to the page connected for sessionID.
func (s *Server) SendCommand(ctx context.Context, sessionID string, label intent.Label, transcript string) error {
	s.mu.Lock()
	client := s.clients[sessionID]
	s.mu.Unlock()
	if client == nil {
		return speech.ErrNotConnected
	}
	err := client.deliver(ctx, protocol.StorefrontCommand{
		Type:       protocol.TypeStorefrontCmd,
		SessionID:  sessionID,
		CommandID:  uuid.NewString(),
		Label:      string(label),
		Transcript: transcript,
	})
	if err == nil {
		s.metrics.ObserveWSMessage("outbound", string(protocol.TypeStorefrontCmd))
	}
	return err
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	prev := s.clients[c.sessionID]
	s.clients[c.sessionID] = c
	s.mu.Unlock()
	if prev != nil {
		// A newer tab took over; the old writer keeps draining until its socket closes.
		s.logger.Info("websocket client replaced", "session_id", c.sessionID)
	}
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	if s.clients[c.sessionID] == c {
		delete(s.clients, c.sessionID)
	}
	s.mu.Unlock()
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.conversations == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversations not configured")
		return
	}
	sess, ok := s.activeSession(w, sessionID)
	if !ok {
		return
	}
	conv, err := s.conversations.Open(r.Context(), sess)
	if err != nil {
		respondError(w, http.StatusBadGateway, "speech_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wsClient{
		sessionID: sessionID,
		outbound:  make(chan any, wsOutboundQueue),
		done:      make(chan struct{}),
	}
	s.registerClient(client)
	defer s.unregisterClient(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-client.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSMessage("write_error", messageTypeOf(msg))
					cancel()
					return
				}
			}
		}
	}()

	conv.Attach(client.outbound)
	bridge, _ := conv.Speech().(*speech.Bridge)
	if bridge != nil {
		bridge.Attach(func(ctx context.Context, text string) error {
			return client.deliver(ctx, protocol.SystemUtterance{
				Type:        protocol.TypeSystemUtterance,
				SessionID:   sessionID,
				UtteranceID: uuid.NewString(),
				Text:        text,
			})
		})
	}
	s.logger.Info("websocket connected", "session_id", sessionID, "transport", sess.Transport)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	var readErr error
	ended := false
	for !ended {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			client.trySend(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		s.metrics.ObserveWSMessage("inbound", messageTypeOf(parsed))
		if id := clientSessionID(parsed); id != sessionID {
			client.trySend(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "session_mismatch",
				Source:    "gateway",
				Detail:    "message session_id does not match the connection",
			})
			continue
		}
		ended = s.dispatch(ctx, conv, bridge, client, parsed)
	}

	conv.Detach()
	if bridge != nil {
		if ended || readErr == nil || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			bridge.Detach("", nil)
		} else {
			bridge.Detach("network", readErr)
		}
	}
	close(client.done)
	cancel()
	<-writerDone
	s.logger.Info("websocket disconnected", "session_id", sessionID, "ended", ended)
}

// dispatch applies one client message. It reports whether the client ended the session.
func (s *Server) dispatch(ctx context.Context, conv *voice.Conversation, bridge *speech.Bridge, client *wsClient, msg any) bool {
	switch m := msg.(type) {
	case protocol.ClientTranscript:
		s.deliverEvent(ctx, conv, bridge, speech.Event{Type: speech.EventTranscript, Text: m.Text, IsFinal: m.IsFinal})
	case protocol.ClientSpeechState:
		ev := speech.Event{Type: speech.EventSpeechStarted}
		if m.State == protocol.SpeechEnded {
			ev.Type = speech.EventSpeechEnded
		}
		s.deliverEvent(ctx, conv, bridge, ev)
	case protocol.ClientError:
		s.deliverEvent(ctx, conv, bridge, speech.Event{Type: speech.EventError, Kind: m.Kind, Message: m.Message})
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionStartCheckout:
			conv.StartCheckout(ctx)
		case protocol.ActionStopCheckout:
			conv.StopCheckout()
		case protocol.ActionReconnect:
			if err := conv.Reconnect(); err != nil {
				client.trySend(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: client.sessionID,
					Code:      "reconnect_failed",
					Source:    "speech",
					Retryable: true,
					Detail:    err.Error(),
				})
			}
		case protocol.ActionEnd:
			_, _ = s.sessions.End(client.sessionID)
			s.conversations.Close(client.sessionID)
			return true
		default:
			client.trySend(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: client.sessionID,
				Code:      "unsupported_action",
				Source:    "gateway",
				Detail:    m.Action,
			})
		}
	}
	return false
}

// deliverEvent feeds a browser-reported event into the conversation. Bridge
// sessions go through the supervisor; other transports only take the
// playback and transcript events directly.
func (s *Server) deliverEvent(ctx context.Context, conv *voice.Conversation, bridge *speech.Bridge, ev speech.Event) {
	if bridge != nil {
		if !bridge.Push(ev) {
			s.metrics.ObserveIndicator("bridge_event_dropped")
		}
		return
	}
	conv.HandleEvent(ctx, ev)
}

func clientSessionID(msg any) string {
	switch m := msg.(type) {
	case protocol.ClientTranscript:
		return m.SessionID
	case protocol.ClientSpeechState:
		return m.SessionID
	case protocol.ClientControl:
		return m.SessionID
	case protocol.ClientError:
		return m.SessionID
	default:
		return ""
	}
}

func messageTypeOf(v any) string {
	switch m := v.(type) {
	case protocol.ClientTranscript:
		return string(m.Type)
	case protocol.ClientSpeechState:
		return string(m.Type)
	case protocol.ClientControl:
		return string(m.Type)
	case protocol.ClientError:
		return string(m.Type)
	case protocol.SystemUtterance:
		return string(m.Type)
	case protocol.CommandEvent:
		return string(m.Type)
	case protocol.CheckoutState:
		return string(m.Type)
	case protocol.ConnectionState:
		return string(m.Type)
	case protocol.StorefrontCommand:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
