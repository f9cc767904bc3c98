// ABOUTME: JSON handlers for sessions, models, sync broadcast, turns and transcripts
// ABOUTME: Maps engine sentinel errors to HTTP status codes

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/engine"
	"github.com/2389/parley/internal/ledger"
	"github.com/2389/parley/internal/transcript"
)

// ConfirmHeader confirms a model switch that would discard history.
const ConfirmHeader = "X-Parley-Confirm"

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ModelsResponse is the JSON response for GET /api/models.
type ModelsResponse struct {
	Default string          `json:"default"`
	Models  []catalog.Entry `json:"models"`
}

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	Model string `json:"model,omitempty"`
}

// SetModelRequest is the JSON request body for PUT /api/sessions/{id}/model.
type SetModelRequest struct {
	Model   string `json:"model"`
	Confirm bool   `json:"confirm,omitempty"`
}

// SetSyncRequest is the JSON request body for PUT /api/sessions/{id}/sync.
type SetSyncRequest struct {
	Enabled bool `json:"enabled"`
}

// SendMessageRequest is the JSON request body for POST /api/sessions/{id}/messages.
type SendMessageRequest struct {
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// SharedInputRequest is the JSON request body for PUT /api/sync.
type SharedInputRequest struct {
	Input string `json:"input"`
}

// BroadcastRequest is the JSON request body for POST /api/sync/broadcast.
type BroadcastRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

// TurnResponse is one ledger row for GET /api/turns.
type TurnResponse struct {
	ID          string  `json:"turn_id"`
	SessionID   string  `json:"session_id"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Reply       string  `json:"reply,omitempty"`
	Outcome     string  `json:"outcome"`
	FaultReason string  `json:"fault_reason,omitempty"`
	Fragments   int     `json:"fragments"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  string  `json:"finished_at"`
	DurationMS  float64 `json:"duration_ms"`
}

// ListTurnsResponse is the JSON response for GET /api/turns.
type ListTurnsResponse struct {
	Turns []TurnResponse `json:"turns"`
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/sessions/{id}/model", s.handleSetModel)
	mux.HandleFunc("PUT /api/sessions/{id}/sync", s.handleSetSync)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/sessions/{id}/transcript", s.handleTranscript)

	mux.HandleFunc("GET /api/sync", s.handleGetSync)
	mux.HandleFunc("PUT /api/sync", s.handleSetSharedInput)
	mux.HandleFunc("POST /api/sync/broadcast", s.handleBroadcast)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/turns", s.handleListTurns)
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

// handleListModels handles GET /api/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Default: s.engine.DefaultModel(),
		Models:  s.engine.Models(),
	})
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Sessions())
}

// handleCreateSession handles POST /api/sessions. An empty body creates a
// session on the default model.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	snap, err := s.engine.CreateSession(req.Model)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.logger.Info("session created", "session_id", snap.ID, "model", snap.Model)
	s.writeJSON(w, http.StatusCreated, snap)
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Session(r.PathValue("id"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleDeleteSession handles DELETE /api/sessions/{id}. Removing an unknown
// session still succeeds.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.RemoveSession(id); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.logger.Info("session removed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetModel handles PUT /api/sessions/{id}/model. Switching discards the
// conversation, so a session with history needs an explicit confirmation.
func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SetModelRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		s.sendJSONError(w, http.StatusBadRequest, "model is required")
		return
	}

	var snap conversation.Snapshot
	var err error
	if req.Confirm || isTrue(r.Header.Get(ConfirmHeader)) {
		snap, err = s.engine.SetModel(id, req.Model)
	} else {
		snap, err = s.engine.SetModelIfEmpty(id, req.Model)
	}
	if errors.Is(err, conversation.ErrHistoryNotEmpty) {
		s.sendJSONError(w, http.StatusConflict, "switching models clears the conversation; resend with confirm")
		return
	}
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.logger.Info("session model changed", "session_id", id, "model", snap.Model)
	s.writeJSON(w, http.StatusOK, snap)
}

// handleSetSync handles PUT /api/sessions/{id}/sync.
func (s *Server) handleSetSync(w http.ResponseWriter, r *http.Request) {
	var req SetSyncRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	st, err := s.engine.SetSyncMember(r.PathValue("id"), req.Enabled)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleSendMessage handles POST /api/sessions/{id}/messages. The turn runs
// in the background; the response is the Awaiting snapshot and progress is
// observed on /api/events.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SendMessageRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var key string
	if req.RequestID != "" {
		key = dedupe.Key("send/"+id, req.RequestID)
		if !s.dedupe.Claim(key) {
			s.sendJSONError(w, http.StatusConflict, "duplicate request_id")
			return
		}
	}

	snap, err := s.engine.Send(id, req.Content)
	if err != nil {
		if key != "" {
			s.dedupe.Release(key)
		}
		s.sendEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

// handleTranscript handles GET /api/sessions/{id}/transcript?format=md|html.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	format, err := transcript.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.engine.Session(r.PathValue("id"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	title := snap.Model
	for _, m := range s.engine.Models() {
		if m.ID == snap.Model {
			title = m.Title
			break
		}
	}

	body, err := s.transcript.Render(snap, title, format)
	if err != nil {
		s.logger.Error("failed to render transcript", "session_id", snap.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = w.Write(body)
}

// handleGetSync handles GET /api/sync.
func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.SyncState())
}

// handleSetSharedInput handles PUT /api/sync.
func (s *Server) handleSetSharedInput(w http.ResponseWriter, r *http.Request) {
	var req SharedInputRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	st, err := s.engine.SetSharedInput(req.Input)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleBroadcast handles POST /api/sync/broadcast.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	var key string
	if req.RequestID != "" {
		key = dedupe.Key("broadcast", req.RequestID)
		if !s.dedupe.Claim(key) {
			s.sendJSONError(w, http.StatusConflict, "duplicate request_id")
			return
		}
	}

	res, err := s.engine.Broadcast()
	if err != nil {
		if key != "" {
			s.dedupe.Release(key)
		}
		s.sendEngineError(w, err)
		return
	}
	s.logger.Info("broadcast dispatched", "sent", len(res.Sent), "skipped", len(res.Skipped))
	s.writeJSON(w, http.StatusOK, res)
}

// handleListTurns handles GET /api/turns?session=&model=&outcome=&limit=.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.sendJSONError(w, http.StatusNotFound, "turn ledger is disabled")
		return
	}

	q := r.URL.Query()
	filter := ledger.Filter{
		SessionID: q.Get("session"),
		Model:     q.Get("model"),
		Outcome:   conversation.Outcome(q.Get("outcome")),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	turns, err := s.ledger.ListTurns(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list turns", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListTurnsResponse{Turns: make([]TurnResponse, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, TurnResponse{
			ID:          t.ID,
			SessionID:   t.SessionID,
			Model:       t.Model,
			Prompt:      t.Prompt,
			Reply:       t.Reply,
			Outcome:     string(t.Outcome),
			FaultReason: t.FaultReason,
			Fragments:   t.Fragments,
			StartedAt:   t.StartedAt.UTC().Format(time.RFC3339Nano),
			FinishedAt:  t.FinishedAt.UTC().Format(time.RFC3339Nano),
			DurationMS:  float64(t.Duration().Microseconds()) / 1000,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.sendJSONError(w, http.StatusNotFound, "turn ledger is disabled")
		return
	}
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"models": stats})
}

// sendEngineError maps engine errors to status codes.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, conversation.ErrSessionClosed):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, broadcast.ErrEmptyInput):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrBusy),
		errors.Is(err, broadcast.ErrSyncDisabled):
		s.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrClosed):
		s.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("engine call failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
