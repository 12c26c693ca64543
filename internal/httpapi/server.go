// Package httpapi serves the local status and control API of a running
// client.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/rhodes-client/internal/connection"
	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/protocol"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/voice"
)

// Client is the part of the connection manager the API drives.
type Client interface {
	Snapshot() session.Session
	Ready() bool
	QueueLen() int
	SendText(text string)
	Interrupt(reason string)
	Retry() error
	ListSessions(ctx context.Context) ([]protocol.SessionSummary, error)
}

// Voice is optional; the voice routes answer 503 without it.
type Voice interface {
	Snapshot() voice.Snapshot
	SetMode(mode voice.Mode)
}

type Server struct {
	client     Client
	voice      Voice
	transcript *render.Transcript
	metrics    *observability.Metrics
}

func New(client Client, v Voice, transcript *render.Transcript, metrics *observability.Metrics) *Server {
	return &Server{client: client, voice: v, transcript: transcript, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/state", s.handleState)
	r.Get("/v1/transcript", s.handleTranscript)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/messages", s.handleSendMessage)
	r.Post("/v1/interrupt", s.handleInterrupt)
	r.Post("/v1/retry", s.handleRetry)
	r.Post("/v1/voice/mode", s.handleVoiceMode)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"connection": s.client.Snapshot().Status,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	snap := s.client.Snapshot()
	if !s.client.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":     "not_ready",
			"connection": snap.Status,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"connection": snap.Status,
		"guest":      snap.IsGuest,
	})
}

type stateResponse struct {
	Session    session.Session `json:"session"`
	QueueDepth int             `json:"queue_depth"`
	Voice      *voice.Snapshot `json:"voice,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	res := stateResponse{
		Session:    s.client.Snapshot(),
		QueueDepth: s.client.QueueLen(),
	}
	if s.voice != nil {
		snap := s.voice.Snapshot()
		res.Voice = &snap
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	if s.transcript == nil {
		respondJSON(w, http.StatusOK, map[string]any{"entries": []render.Entry{}, "notices": []string{}})
		return
	}
	entries := s.transcript.Entries()
	if entries == nil {
		entries = []render.Entry{}
	}
	notices := s.transcript.Notices()
	if notices == nil {
		notices = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "notices": notices})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.client.ListSessions(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, connection.ErrGuestUnsupported):
		respondError(w, http.StatusForbidden, "guest_unsupported", err.Error())
		return
	case errors.Is(err, connection.ErrNotConnected):
		respondError(w, http.StatusServiceUnavailable, "not_connected", err.Error())
		return
	case errors.Is(err, connection.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
		return
	default:
		respondError(w, http.StatusBadGateway, "list_failed", err.Error())
		return
	}
	if sessions == nil {
		sessions = []protocol.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}
	queued := !s.client.Ready()
	s.client.SendText(text)
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "user_interrupt"
	}
	s.client.Interrupt(reason)
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	switch err := s.client.Retry(); {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "reconnecting"})
	case errors.Is(err, connection.ErrRetryThrottled):
		respondError(w, http.StatusTooManyRequests, "throttled", err.Error())
	case errors.Is(err, connection.ErrClosed):
		respondError(w, http.StatusConflict, "closed", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "retry_failed", err.Error())
	}
}

func (s *Server) handleVoiceMode(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		respondError(w, http.StatusServiceUnavailable, "voice_unavailable", "voice is not configured")
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, ok := voice.ParseMode(req.Mode)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be push_to_talk or hands_free")
		return
	}
	s.voice.SetMode(mode)
	respondJSON(w, http.StatusOK, s.voice.Snapshot())
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
