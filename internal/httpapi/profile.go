package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/profile"
)

type fieldError struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "profile store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	p, err := s.profiles.Get(r.Context(), userID)
	if errors.Is(err, profile.ErrNotFound) {
		respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile_store_error", err.Error())
		return
	}
	respondProfile(w, p)
}

// handlePatchProfile validates every submitted field the way spoken answers
// are validated and stores them together.
func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "profile store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil || len(body) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "expected a JSON object of profile fields")
		return
	}

	partial := make(map[extract.Field]string, len(body))
	var invalid []fieldError
	for key, raw := range body {
		field, ok := extract.ParseField(key)
		if !ok {
			invalid = append(invalid, fieldError{Field: key, Prompt: "unknown field"})
			continue
		}
		res := s.parser.Parse(field, raw)
		if !res.Valid {
			invalid = append(invalid, fieldError{Field: string(field), Prompt: res.CorrectionPrompt})
			continue
		}
		partial[field] = res.Value
	}
	if len(invalid) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":   "invalid_fields",
			"fields": invalid,
		})
		return
	}

	p, err := s.profiles.Update(r.Context(), userID, partial)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profile_store_error", err.Error())
		return
	}
	respondProfile(w, p)
}

func respondProfile(w http.ResponseWriter, p profile.Profile) {
	missing := make([]string, 0, len(extract.Fields))
	for _, f := range p.Missing() {
		missing = append(missing, string(f))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"profile":  p.Masked(),
		"complete": p.Complete(),
		"missing":  missing,
	})
}
