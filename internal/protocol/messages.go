// Package protocol defines the JSON messages exchanged with the browser over
// the voice websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTranscript  MessageType = "client_transcript"
	TypeClientSpeechState MessageType = "client_speech_state"
	TypeClientControl     MessageType = "client_control"
	TypeClientError       MessageType = "client_error"

	TypeSystemUtterance MessageType = "system_utterance"
	TypeCommandEvent    MessageType = "command_event"
	TypeCheckoutState   MessageType = "checkout_state"
	TypeConnectionState MessageType = "connection_state"
	TypeStorefrontCmd   MessageType = "storefront_command"
	TypeErrorEvent      MessageType = "error_event"
)

// Playback states reported in client_speech_state.
const (
	SpeechStarted = "started"
	SpeechEnded   = "ended"
)

// Actions accepted in client_control.
const (
	ActionStartCheckout = "start_checkout"
	ActionStopCheckout  = "stop_checkout"
	ActionReconnect     = "reconnect"
	ActionEnd           = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTranscript carries one recognition result from the browser.
type ClientTranscript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// ClientSpeechState reports system playback starting or ending.
type ClientSpeechState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
}

// ClientError reports a browser recognition failure, e.g. "not-allowed".
type ClientError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Message   string      `json:"message,omitempty"`
}

type SystemUtterance struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Text        string      `json:"text"`
}

type CommandEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	EntryID     string      `json:"entry_id,omitempty"`
	Label       string      `json:"label"`
	Source      string      `json:"source"`
	HandledBy   string      `json:"handled_by,omitempty"`
	Handled     bool        `json:"handled"`
	Description string      `json:"description,omitempty"`
}

type CheckoutState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Step      string      `json:"step"`
	Active    bool        `json:"active"`
	Collected []string    `json:"collected"`
	Prompt    string      `json:"prompt,omitempty"`
}

type ConnectionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Mode      string      `json:"mode"`
	Attempts  int         `json:"attempts"`
}

// StorefrontCommand asks the page to perform a recognized command.
type StorefrontCommand struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	CommandID  string      `json:"command_id"`
	Label      string      `json:"label"`
	Transcript string      `json:"transcript"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTranscript:
		var msg ClientTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_transcript")
		}
		return msg, nil
	case TypeClientSpeechState:
		var msg ClientSpeechState
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || (msg.State != SpeechStarted && msg.State != SpeechEnded) {
			return nil, errors.New("invalid client_speech_state")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientError:
		var msg ClientError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Kind == "" {
			return nil, errors.New("invalid client_error")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
