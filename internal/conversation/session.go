// ABOUTME: Session is one conversation with its own model, history and turn lifecycle
// ABOUTME: Drives Idle/Awaiting/Streaming/Failed/Completed and publishes a snapshot per transition

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/assembler"
	"github.com/2389/parley/internal/provider"
)

var (
	// ErrBusy is returned when a send arrives while a turn is in flight.
	ErrBusy = errors.New("session is busy")

	// ErrEmptyMessage is returned for blank or whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSessionClosed is returned by operations on a removed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrHistoryNotEmpty is returned by SetModelIfEmpty when switching would
	// discard messages.
	ErrHistoryNotEmpty = errors.New("session has history")
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaiting
	StateStreaming
	StateFailed
	StateCompleted
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateAwaiting:  "awaiting",
	StateStreaming: "streaming",
	StateFailed:    "failed",
	StateCompleted: "completed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Busy reports whether a turn is in flight.
func (s State) Busy() bool {
	return s == StateAwaiting || s == StateStreaming
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is an immutable view of a session at one transition.
type Snapshot struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	History    []provider.Message `json:"history"`
	Draft      string             `json:"draft,omitempty"`
	State      State              `json:"state"`
	SyncMember bool               `json:"sync_member"`
	LastFault  string             `json:"last_fault,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Session holds one conversation. All methods are safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	models    ModelResolver
	notify    func(Snapshot)
	observer  TurnObserver
	turns     *sync.WaitGroup
	logger    *slog.Logger

	mu         sync.Mutex
	model      string
	history    []provider.Message
	draft      string
	state      State
	syncMember bool
	lastFault  string
	updatedAt  time.Time
	closed     bool

	// generation increments whenever the in-flight turn is abandoned, so
	// events from an abandoned pipeline are discarded.
	generation uint64
	cancel     context.CancelFunc
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Send appends a user message and starts a turn against the selected model.
// It returns the Awaiting snapshot. A busy session rejects the call with
// ErrBusy and is left unchanged.
func (s *Session) Send(text string) (Snapshot, error) {
	if strings.TrimSpace(text) == "" {
		return Snapshot{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if s.state.Busy() {
		s.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	capability, err := s.models.Resolve(s.model)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: text})
	s.draft = ""
	s.lastFault = ""
	s.state = StateAwaiting
	s.generation++
	gen := s.generation

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	history := slices.Clone(s.history)
	rec := TurnRecord{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Model:     s.model,
		Prompt:    text,
		StartedAt: time.Now(),
	}
	snap := s.publishLocked()
	s.turns.Add(1)
	s.mu.Unlock()

	s.logger.Debug("turn started",
		"session_id", s.id,
		"turn_id", rec.ID,
		"model", rec.Model,
		"history_len", len(history))

	s.observer.TurnStarted(s.id, rec.Model)
	go s.runTurn(ctx, gen, capability, history, rec)
	return snap, nil
}

// SetModel switches the model and resets the conversation. Any in-flight turn
// is cancelled. Callers decide whether a non-empty history needs confirmation.
func (s *Session) SetModel(model string) (Snapshot, error) {
	return s.setModel(model, false)
}

// SetModelIfEmpty switches the model only while the history is empty, checked
// under the same lock as the switch. Otherwise it returns ErrHistoryNotEmpty
// and leaves the session unchanged.
func (s *Session) SetModelIfEmpty(model string) (Snapshot, error) {
	return s.setModel(model, true)
}

func (s *Session) setModel(model string, requireEmpty bool) (Snapshot, error) {
	if _, err := s.models.Resolve(model); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	if requireEmpty && len(s.history) > 0 {
		return Snapshot{}, ErrHistoryNotEmpty
	}

	s.abortLocked()
	previous := s.model
	s.model = model
	s.history = nil
	s.draft = ""
	s.lastFault = ""
	s.state = StateIdle

	s.logger.Info("model changed",
		"session_id", s.id,
		"from", previous,
		"model", model)

	return s.publishLocked(), nil
}

// SetSyncMember records whether the session receives broadcast input.
func (s *Session) SetSyncMember(enabled bool) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	if s.syncMember == enabled {
		return s.snapshotLocked(), nil
	}
	s.syncMember = enabled
	return s.publishLocked(), nil
}

// Close cancels any in-flight turn. No further snapshots are published.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.abortLocked()
}

func (s *Session) runTurn(ctx context.Context, gen uint64, capability provider.Capability, history []provider.Message, rec TurnRecord) {
	defer s.turns.Done()

	rec.Outcome = OutcomeCancelled
	for e := range assembler.Start(ctx, capability, history) {
		if !s.apply(gen, e) {
			continue
		}
		rec.Fragments = e.Fragments
		switch e.Kind {
		case assembler.KindDone:
			rec.Outcome = OutcomeCompleted
			rec.Reply = e.Text
		case assembler.KindFault:
			rec.Outcome = OutcomeFailed
			rec.FaultReason = e.Reason
		}
	}
	rec.FinishedAt = time.Now()

	if rec.Outcome == OutcomeFailed {
		s.logger.Warn("turn failed",
			"session_id", s.id,
			"turn_id", rec.ID,
			"model", rec.Model,
			"error", rec.FaultReason)
	} else {
		s.logger.Debug("turn finished",
			"session_id", s.id,
			"turn_id", rec.ID,
			"outcome", string(rec.Outcome),
			"fragments", rec.Fragments,
			"duration", rec.Duration())
	}

	s.observer.TurnFinished(rec)
}

// apply folds one assembler event into the session. It reports false when the
// event belongs to an abandoned turn.
func (s *Session) apply(gen uint64, e assembler.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return false
	}

	switch e.Kind {
	case assembler.KindProgress:
		s.state = StateStreaming
		s.draft = e.Text
		s.publishLocked()
	case assembler.KindDone:
		s.history = append(s.history, provider.Message{Role: provider.RoleAssistant, Content: e.Text})
		s.draft = ""
		s.state = StateCompleted
		s.publishLocked()
		s.settleLocked()
	case assembler.KindFault:
		s.draft = ""
		s.lastFault = e.Reason
		s.state = StateFailed
		s.publishLocked()
		s.settleLocked()
	}
	return true
}

// settleLocked returns a finished turn to Idle.
func (s *Session) settleLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateIdle
	s.publishLocked()
}

func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}

func (s *Session) publishLocked() Snapshot {
	s.updatedAt = time.Now()
	snap := s.snapshotLocked()
	if s.notify != nil {
		s.notify(snap)
	}
	return snap
}

func (s *Session) snapshotLocked() Snapshot {
	// history is append-only between resets, so snapshots share it. The
	// capped capacity makes an append by a reader reallocate.
	n := len(s.history)
	history := s.history[:n:n]
	if history == nil {
		history = []provider.Message{}
	}
	return Snapshot{
		ID:         s.id,
		Model:      s.model,
		History:    history,
		Draft:      s.draft,
		State:      s.state,
		SyncMember: s.syncMember,
		LastFault:  s.lastFault,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}
