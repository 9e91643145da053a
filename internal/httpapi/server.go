// Package httpapi exposes voice sessions over HTTP and the browser websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/extract"
	"github.com/ent0n29/voicecart/internal/observability"
	"github.com/ent0n29/voicecart/internal/profile"
	"github.com/ent0n29/voicecart/internal/session"
	"github.com/ent0n29/voicecart/internal/voice"
)

// Conversations owns the live conversation of every voice session.
type Conversations interface {
	Open(ctx context.Context, s *session.Session) (*voice.Conversation, error)
	Get(sessionID string) (*voice.Conversation, error)
	Close(sessionID string)
}

// Options configures a Server.
type Options struct {
	Config        config.Config
	Sessions      *session.Manager
	Conversations Conversations
	Profiles      profile.Store
	Parser        *extract.Parser
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

type Server struct {
	cfg           config.Config
	sessions      *session.Manager
	conversations Conversations
	profiles      profile.Store
	parser        *extract.Parser
	metrics       *observability.Metrics
	logger        *slog.Logger
	upgrader      websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Parser == nil {
		opts.Parser = extract.NewParser(extract.OptionsFromPhrases(config.DefaultPhrases()))
	}
	cfg := opts.Config
	return &Server{
		cfg:           cfg,
		sessions:      opts.Sessions,
		conversations: opts.Conversations,
		profiles:      opts.Profiles,
		parser:        opts.Parser,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		clients:       make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin pages may drive a session unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Route("/v1/voice/session/{id}", func(r chi.Router) {
		r.Post("/end", s.handleEndSession)
		r.Post("/transcript", s.handleTranscript)
		r.Get("/checkout", s.handleGetCheckout)
		r.Post("/checkout/start", s.handleStartCheckout)
		r.Post("/checkout/stop", s.handleStopCheckout)
		r.Get("/actions", s.handleListActions)
	})

	r.Get("/v1/profile/{user_id}", s.handleGetProfile)
	r.Patch("/v1/profile/{user_id}", s.handlePatchProfile)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.conversations == nil || s.profiles == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.Locale) == "" {
		req.Locale = s.cfg.SpeechLanguage
	}
	if strings.TrimSpace(req.Transport) == "" {
		req.Transport = "bridge"
	}
	if s.conversations == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversations not configured")
		return
	}

	sess := s.sessions.Create(req.UserID, req.Locale, req.Transport)
	if _, err := s.conversations.Open(r.Context(), sess); err != nil {
		_, _ = s.sessions.End(sess.ID)
		s.logger.Error("open conversation failed", "session_id", sess.ID, "error", err)
		respondError(w, http.StatusBadGateway, "speech_unavailable", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Locale:          sess.Locale,
		Transport:       sess.Transport,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		WebSocketPath:   "/v1/voice/session/ws?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.conversations != nil {
		s.conversations.Close(id)
	}
	respondJSON(w, http.StatusOK, sess)
}

// activeSession resolves the {id} path parameter to a session that has not ended.
func (s *Server) activeSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	sess, err := s.sessions.Get(strings.TrimSpace(id))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	if sess.Status == session.StatusEnded {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return nil, false
	}
	return sess, true
}

// conversation returns the conversation behind {id}, opening it if needed.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*voice.Conversation, bool) {
	if s.conversations == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversations not configured")
		return nil, false
	}
	sess, ok := s.activeSession(w, chi.URLParam(r, "id"))
	if !ok {
		return nil, false
	}
	conv, err := s.conversations.Open(r.Context(), sess)
	if err != nil {
		respondError(w, http.StatusBadGateway, "speech_unavailable", err.Error())
		return nil, false
	}
	return conv, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
