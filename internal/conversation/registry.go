// ABOUTME: Registry owns every live session: creation, lookup, ordered listing, removal
// ABOUTME: Removing a session cancels its in-flight turn before it leaves the registry

package conversation

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/provider"
)

// ModelResolver validates model ids and returns their capability.
type ModelResolver interface {
	Resolve(model string) (provider.Capability, error)
}

// Options wires a registry to its collaborators.
type Options struct {
	Models ModelResolver
	// Notify receives every session snapshot, under that session's lock.
	Notify   func(Snapshot)
	Observer TurnObserver
	Logger   *slog.Logger
}

// Registry coordinates all sessions.
type Registry struct {
	sessions map[string]*Session
	order    []string
	mu       sync.RWMutex

	models   ModelResolver
	notify   func(Snapshot)
	observer TurnObserver
	turns    sync.WaitGroup
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = Observers(nil)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		models:   opts.Models,
		notify:   opts.Notify,
		observer: observer,
		logger:   logger.With("component", "registry"),
	}
}

// Create adds an Idle session on model with a fresh id and empty history.
// Unknown models are rejected.
func (r *Registry) Create(model string) (*Session, error) {
	if _, err := r.models.Resolve(model); err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		models:    r.models,
		notify:    r.notify,
		observer:  r.observer,
		turns:     &r.turns,
		logger:    r.logger,
		model:     model,
		state:     StateIdle,
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session created",
		"session_id", s.id,
		"model", model,
		"total_sessions", total)
	return s, nil
}

// Remove closes and forgets a session. Unknown ids are ignored. It reports
// whether a session was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
		r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if !exists {
		return false
	}
	s.Close()
	r.logger.Info("session removed",
		"session_id", id,
		"total_sessions", total)
	return true
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns sessions in creation order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Wait blocks until every turn goroutine has returned.
func (r *Registry) Wait() {
	r.turns.Wait()
}
