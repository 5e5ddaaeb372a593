// Package httpapi exposes the REST and WebSocket surface of the voice
// service.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/relay"
	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/voice"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	gateway  *voice.Gateway
	hub      *relay.Hub
	store    store.Store
	usage    *observability.UsageTracker
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, gateway *voice.Gateway, hub *relay.Hub, st store.Store, usage *observability.UsageTracker, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		gateway:  gateway,
		hub:      hub,
		store:    st,
		usage:    usage,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may attach to a negotiation room
				// unless the deployment explicitly opens it up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/sessions", s.handleStartSession)
	r.Get("/v1/voice/sessions/{id}", s.handleGetSession)
	r.Post("/v1/voice/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/voice/sessions/{id}/pause", s.handlePauseSession)
	r.Post("/v1/voice/sessions/{id}/resume", s.handleResumeSession)
	r.Get("/v1/voice/ws", s.handleRoomWS)

	r.Post("/v1/voice/synthesize", s.handleSynthesize)
	r.Get("/v1/voice/voices", s.handleListVoices)
	r.Get("/v1/voice/characters", s.handleListCharacters)
	r.Get("/v1/voice/status", s.handleStatus)
	r.Post("/v1/voice/circuit-breaker/reset", s.handleResetBreaker)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type startSessionRequest struct {
	SessionID     string `json:"session_id"`
	NegotiationID string `json:"negotiation_id"`
	CharacterName string `json:"character_name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.NegotiationID) == "" || strings.TrimSpace(req.CharacterName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "negotiation_id and character_name are required")
		return
	}

	sess, err := s.sessions.Start(r.Context(), session.StartRequest{
		SessionID:     strings.TrimSpace(req.SessionID),
		NegotiationID: req.NegotiationID,
		CharacterName: req.CharacterName,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyExists) {
			respondError(w, http.StatusConflict, "session_exists", err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "session_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.sessions.Pause)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.sessions.Resume)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(id); err != nil {
		status := http.StatusNotFound
		code := "session_not_found"
		if errors.Is(err, session.ErrSessionEnded) {
			status, code = http.StatusConflict, "session_ended"
		}
		respondError(w, status, code, err.Error())
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type synthesizeRequest struct {
	CharacterName   string `json:"character_name"`
	Text            string `json:"text"`
	DisableFallback bool   `json:"disable_fallback"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_base64,omitempty"`
	Text        string `json:"text"`
	Format      string `json:"format"`
	Fallback    bool   `json:"fallback"`
	Strategy    string `json:"strategy,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.gateway.Synthesize(r.Context(), req.CharacterName, req.Text, voice.Options{
		DisableFallback: req.DisableFallback,
	})
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "synthesis_failed", err.Error())
		return
	}

	resp := synthesizeResponse{
		Text:      res.Text,
		Format:    res.Format,
		Fallback:  res.Fallback,
		Strategy:  res.Strategy,
		LatencyMS: res.LatencyMS,
	}
	if len(res.Audio) > 0 {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(res.Audio)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.gateway.ListVoices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "voices_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleListCharacters(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"characters": s.gateway.Registry().Names()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"breaker":         s.gateway.BreakerSnapshot(),
		"active_sessions": s.sessions.ActiveCount(),
	}
	if s.usage != nil {
		status["usage"] = s.usage.Snapshot()
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		status["sessions"] = stats
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, _ *http.Request) {
	s.gateway.ResetBreaker()
	respondJSON(w, http.StatusOK, map[string]any{"breaker": s.gateway.BreakerSnapshot()})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.BindAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
