package session

import "time"

// CreateRequest defines payload for creating a new voice session.
type CreateRequest struct {
	UserID string `json:"user_id"`
	Locale string `json:"locale"`
	// Transport selects where speech runs: "bridge" (browser) or "provider".
	Transport string `json:"transport"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Locale          string    `json:"locale"`
	Transport       string    `json:"transport"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
	WebSocketPath   string    `json:"ws_path,omitempty"`
}
