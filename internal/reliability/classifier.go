package reliability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClassificationDegraded marks an intent classification that fell back to
// the general command label because the oracle failed, timed out or answered
// with something unusable.
var ErrClassificationDegraded = errors.New("intent classification degraded")

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// fatalSessionMarkers identify errors after which reconnecting is pointless.
var fatalSessionMarkers = []string{
	"auth",
	"unauthorized",
	"forbidden",
	"ejected",
	"kicked",
	"banned",
	"invalid_api_key",
}

// SessionError is an error reported by the speech session.
type SessionError struct {
	Kind    string
	Message string
	Fatal   bool
}

func (e *SessionError) Error() string {
	severity := "transient"
	if e.Fatal {
		severity = "fatal"
	}
	if e.Message == "" {
		return fmt.Sprintf("%s session error: %s", severity, e.Kind)
	}
	return fmt.Sprintf("%s session error %s: %s", severity, e.Kind, e.Message)
}

// ClassifySessionError builds a SessionError, marking it fatal when the kind or
// message names an authentication or ejection failure.
func ClassifySessionError(kind, message string) *SessionError {
	return &SessionError{
		Kind:    kind,
		Message: message,
		Fatal:   IsFatalSessionError(kind, message),
	}
}

// IsFatalSessionError reports whether kind or message carries a fatal marker.
func IsFatalSessionError(kind, message string) bool {
	haystack := strings.ToLower(kind + " " + message)
	for _, marker := range fatalSessionMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
