// ABOUTME: Server-Sent Events stream of engine updates
// ABOUTME: Replays current state on connect, then forwards session, sync and removed events

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/parley/internal/engine"
)

// keepAliveInterval spaces SSE comment lines on an idle stream.
var keepAliveInterval = 30 * time.Second

// handleEvents handles GET /api/events?session=<id>. Without a session it
// streams every update, starting with the sync state and all sessions.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := r.URL.Query().Get("session")

	// Subscribe before reading state so nothing between the two is lost. A
	// replayed snapshot may repeat one already queued.
	events, _ := s.engine.Subscribe(r.Context(), sessionID)

	var initial []engine.Update
	if sessionID != "" {
		snap, err := s.engine.Session(sessionID)
		if err != nil {
			s.sendEngineError(w, err)
			return
		}
		initial = append(initial, engine.Update{Kind: engine.UpdateSession, SessionID: snap.ID, Session: &snap})
	} else {
		st := s.engine.SyncState()
		initial = append(initial, engine.Update{Kind: engine.UpdateSync, Sync: &st})
		for _, snap := range s.engine.Sessions() {
			initial = append(initial, engine.Update{Kind: engine.UpdateSession, SessionID: snap.ID, Session: &snap})
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, u := range initial {
		s.writeSSEEvent(w, string(u.Kind), u)
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			s.writeSSEEvent(w, "shutdown", map[string]string{"reason": "server shutting down"})
			flusher.Flush()
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case u, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, string(u.Kind), u)
			flusher.Flush()
			if sessionID != "" && u.Kind == engine.UpdateRemoved {
				return
			}
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
