package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/provider"
)

// scripted replays fixed fragments, optionally gated and optionally faulting.
type scripted struct {
	frags     []string
	err       error
	invokeErr error
	release   chan struct{}

	mu      sync.Mutex
	calls   int
	history []provider.Message
}

func (s *scripted) Stream(ctx context.Context, history []provider.Message) (<-chan provider.Chunk, error) {
	s.mu.Lock()
	s.calls++
	s.history = history
	frags, fault, invokeErr, release := s.frags, s.err, s.invokeErr, s.release
	s.mu.Unlock()

	if invokeErr != nil {
		return nil, invokeErr
	}
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
		}
		for _, f := range frags {
			select {
			case out <- provider.Chunk{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if fault != nil {
			select {
			case out <- provider.Chunk{Err: fault}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (s *scripted) lastHistory() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// recorder captures every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) notify(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) states(sessionID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, s := range r.snaps {
		if s.ID == sessionID {
			out = append(out, s.State)
		}
	}
	return out
}

func (r *recorder) forSession(sessionID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Snapshot
	for _, s := range r.snaps {
		if s.ID == sessionID {
			out = append(out, s)
		}
	}
	return out
}

// turnLog records observer callbacks.
type turnLog struct {
	mu       sync.Mutex
	started  []string
	finished []TurnRecord
}

func (l *turnLog) TurnStarted(sessionID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, sessionID)
}

func (l *turnLog) TurnFinished(rec TurnRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, rec)
}

func (l *turnLog) records() []TurnRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TurnRecord, len(l.finished))
	copy(out, l.finished)
	return out
}

type fixture struct {
	registry *Registry
	rec      *recorder
	turns    *turnLog
}

// newFixture builds a registry whose "echo" model is primary and whose
// "chatgpt" model is an always-available alternate.
func newFixture(t *testing.T, primary provider.Capability) *fixture {
	t.Helper()
	f := &fixture{rec: &recorder{}, turns: &turnLog{}}
	models := catalog.NewWithCapabilities(map[string]provider.Capability{
		catalog.Echo:    primary,
		catalog.ChatGPT: provider.NewEcho(0),
	})
	f.registry = NewRegistry(Options{
		Models:   models,
		Notify:   f.rec.notify,
		Observer: f.turns,
	})
	t.Cleanup(func() {
		for _, s := range f.registry.List() {
			f.registry.Remove(s.ID())
		}
		f.registry.Wait()
	})
	return f
}

func (f *fixture) create(t *testing.T) *Session {
	t.Helper()
	s, err := f.registry.Create(catalog.Echo)
	require.NoError(t, err)
	return s
}

func waitIdle(t *testing.T, s *Session, historyLen int) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StateIdle && len(snap.History) == historyLen
	}, 2*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}
