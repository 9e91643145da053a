package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type transcriptRequest struct {
	Text string `json:"text"`
}

// handleTranscript runs a typed command through the same path as speech.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conv.HandleText(r.Context(), req.Text))
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conv.Checkout())
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	prompt := conv.StartCheckout(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"prompt":   prompt,
		"checkout": conv.Checkout(),
	})
}

func (s *Server) handleStopCheckout(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	conv.StopCheckout()
	respondJSON(w, http.StatusOK, conv.Checkout())
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	entries := conv.Actions()
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": conv.ID(),
		"entries":    entries,
	})
}
