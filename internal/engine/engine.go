// ABOUTME: Orchestration engine: composition root over catalog, registry, sync controller
// ABOUTME: Exposes the session and sync operations plus a keyed stream of state updates

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/conversation"
)

var (
	// ErrSessionNotFound is returned for ids the registry does not know.
	ErrSessionNotFound = errors.New("session not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine is closed")
)

// SyncTopic is the subscription key for sync state updates.
const SyncTopic = "sync"

// UpdateKind tags an Update.
type UpdateKind string

const (
	UpdateSession UpdateKind = "session"
	UpdateSync    UpdateKind = "sync"
	UpdateRemoved UpdateKind = "removed"
)

// Update is one observable change.
type Update struct {
	Kind      UpdateKind             `json:"kind"`
	SessionID string                 `json:"session_id,omitempty"`
	Session   *conversation.Snapshot `json:"session,omitempty"`
	Sync      *broadcast.State       `json:"sync,omitempty"`
}

// Reporter receives engine-level gauges and counters.
type Reporter interface {
	SessionsActive(n int)
	BroadcastResult(sent, skipped int)
}

// Options configures an Engine.
type Options struct {
	Catalog      *catalog.Catalog
	DefaultModel string
	// EventBuffer is the per-subscriber update buffer.
	EventBuffer int
	Observers   []conversation.TurnObserver
	Reporter    Reporter
	Logger      *slog.Logger
}

// Engine is the single entry point for presentation layers.
type Engine struct {
	// mu serializes registry membership changes, sync membership changes and
	// broadcasts, so a removed id is never visible to a later broadcast.
	mu     sync.Mutex
	closed bool

	catalog      *catalog.Catalog
	defaultModel string
	registry     *conversation.Registry
	sync         *broadcast.Controller
	events       *conversation.EventBroadcaster[Update]
	reporter     Reporter
	logger       *slog.Logger
}

// New builds an engine. The default model must be in the catalog.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}
	defaultModel := opts.DefaultModel
	if defaultModel == "" {
		defaultModel = catalog.DefaultModel
	}
	if !opts.Catalog.Contains(defaultModel) {
		return nil, fmt.Errorf("default model: %w: %q", catalog.ErrUnknownModel, defaultModel)
	}

	e := &Engine{
		catalog:      opts.Catalog,
		defaultModel: defaultModel,
		sync:         broadcast.NewController(logger),
		events:       conversation.NewEventBroadcaster[Update](opts.EventBuffer, logger),
		reporter:     opts.Reporter,
		logger:       logger.With("component", "engine"),
	}
	e.registry = conversation.NewRegistry(conversation.Options{
		Models:   opts.Catalog,
		Notify:   e.publishSession,
		Observer: conversation.Observers(opts.Observers),
		Logger:   logger,
	})
	return e, nil
}

// DefaultModel is assigned to sessions created without a model.
func (e *Engine) DefaultModel() string {
	return e.defaultModel
}

// Models lists the catalog in display order.
func (e *Engine) Models() []catalog.Entry {
	return e.catalog.Entries()
}

// CreateSession adds a session on model, or on the default model when empty.
func (e *Engine) CreateSession(model string) (conversation.Snapshot, error) {
	if model == "" {
		model = e.defaultModel
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return conversation.Snapshot{}, ErrClosed
	}

	s, err := e.registry.Create(model)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	snap := s.Snapshot()
	e.publishSession(snap)
	e.reportSessions()
	return snap, nil
}

// RemoveSession drops a session, cancels its in-flight turn and removes it
// from sync membership. Unknown ids are ignored.
func (e *Engine) RemoveSession(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.removeLocked(id)
	return nil
}

func (e *Engine) removeLocked(id string) {
	if !e.registry.Remove(id) {
		return
	}
	if e.sync.Forget(id) {
		e.publishSync(e.sync.State())
	}
	e.events.Publish(id, Update{Kind: UpdateRemoved, SessionID: id})
	e.reportSessions()
}

// SetModel switches a session's model, clearing its history.
func (e *Engine) SetModel(id, model string) (conversation.Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return s.SetModel(model)
}

// SetModelIfEmpty switches a session's model only if it has no history yet.
// It returns conversation.ErrHistoryNotEmpty otherwise.
func (e *Engine) SetModelIfEmpty(id, model string) (conversation.Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return s.SetModelIfEmpty(model)
}

// SetSyncMember opts a session in or out of broadcast input.
func (e *Engine) SetSyncMember(id string, enabled bool) (broadcast.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return broadcast.State{}, ErrClosed
	}

	s, ok := e.registry.Get(id)
	if !ok {
		return broadcast.State{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, err := s.SetSyncMember(enabled); err != nil {
		return broadcast.State{}, err
	}
	st := e.sync.SetMember(id, enabled)
	e.publishSync(st)
	return st, nil
}

// SetSharedInput updates the broadcast composer text.
func (e *Engine) SetSharedInput(text string) (broadcast.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return broadcast.State{}, ErrClosed
	}
	st := e.sync.SetSharedInput(text)
	e.publishSync(st)
	return st, nil
}

// Send starts a turn on one session.
func (e *Engine) Send(id, text string) (conversation.Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return s.Send(text)
}

// Broadcast fans the shared input out to every synced idle session.
func (e *Engine) Broadcast() (broadcast.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return broadcast.Result{}, ErrClosed
	}

	res, err := e.sync.Broadcast(directory{e.registry})
	if err != nil {
		return broadcast.Result{}, err
	}
	if e.reporter != nil {
		e.reporter.BroadcastResult(len(res.Sent), len(res.Skipped))
	}
	e.publishSync(e.sync.State())
	return res, nil
}

// Session returns one session's snapshot.
func (e *Engine) Session(id string) (conversation.Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Sessions returns every session in creation order.
func (e *Engine) Sessions() []conversation.Snapshot {
	list := e.registry.List()
	out := make([]conversation.Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	return out
}

// SyncState returns the shared input and membership.
func (e *Engine) SyncState() broadcast.State {
	return e.sync.State()
}

// Subscribe streams updates for key: a session id, SyncTopic, or "" for all.
// The channel closes when ctx is done or the engine closes.
func (e *Engine) Subscribe(ctx context.Context, key string) (<-chan Update, string) {
	if key == "" {
		key = conversation.AllKeys
	}
	return e.events.Subscribe(ctx, key)
}

// Close removes every session, waits for their turns to unwind and closes all
// subscriptions.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	for _, s := range e.registry.List() {
		e.removeLocked(s.ID())
	}
	e.closed = true
	e.mu.Unlock()

	e.registry.Wait()
	e.events.Close()
	e.logger.Info("engine closed")
}

func (e *Engine) lookup(id string) (*conversation.Session, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (e *Engine) publishSession(snap conversation.Snapshot) {
	e.events.Publish(snap.ID, Update{Kind: UpdateSession, SessionID: snap.ID, Session: &snap})
}

func (e *Engine) publishSync(st broadcast.State) {
	e.events.Publish(SyncTopic, Update{Kind: UpdateSync, Sync: &st})
}

func (e *Engine) reportSessions() {
	if e.reporter != nil {
		e.reporter.SessionsActive(e.registry.Len())
	}
}

// directory adapts the registry to the sync controller.
type directory struct {
	registry *conversation.Registry
}

func (d directory) Lookup(id string) (broadcast.Target, bool) {
	s, ok := d.registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}
