// ABOUTME: End-to-end tests for the orchestration engine
// ABOUTME: Exercises sends, broadcast fan-out, removal propagation and update streams

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/provider"
)

// fragmentsThen replays frags, then faults with err if non-nil.
func fragmentsThen(err error, frags ...string) provider.Capability {
	return provider.CapabilityFunc(func(ctx context.Context, history []provider.Message) (<-chan provider.Chunk, error) {
		out := make(chan provider.Chunk, len(frags)+1)
		for _, f := range frags {
			out <- provider.Chunk{Text: f}
		}
		if err != nil {
			out <- provider.Chunk{Err: err}
		}
		close(out)
		return out, nil
	})
}

// gated blocks every turn until release is closed.
func gated(release <-chan struct{}) provider.Capability {
	return provider.CapabilityFunc(func(ctx context.Context, history []provider.Message) (<-chan provider.Chunk, error) {
		out := make(chan provider.Chunk)
		go func() {
			defer close(out)
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
			select {
			case out <- provider.Chunk{Text: "released"}:
			case <-ctx.Done():
			}
		}()
		return out, nil
	})
}

type fakeReporter struct {
	mu      sync.Mutex
	active  int
	sent    int
	skipped int
}

func (r *fakeReporter) SessionsActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *fakeReporter) BroadcastResult(sent, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent += sent
	r.skipped += skipped
}

func newEngine(t *testing.T, caps map[string]provider.Capability) (*Engine, *fakeReporter) {
	t.Helper()
	rep := &fakeReporter{}
	e, err := New(Options{
		Catalog:      catalog.NewWithCapabilities(caps),
		DefaultModel: catalog.Echo,
		Reporter:     rep,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, rep
}

func waitIdle(t *testing.T, e *Engine, id string, historyLen int) conversation.Snapshot {
	t.Helper()
	var snap conversation.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = e.Session(id)
		return err == nil && snap.State == conversation.StateIdle && len(snap.History) == historyLen
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestEngine_SendAssemblesReply(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "He", "llo ", "there"),
	})

	s1, err := e.CreateSession("")
	require.NoError(t, err)
	assert.Equal(t, catalog.Echo, s1.Model)

	_, err = e.Send(s1.ID, "hello")
	require.NoError(t, err)

	final := waitIdle(t, e, s1.ID, 2)
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleUser, Content: "hello"},
		{Role: provider.RoleAssistant, Content: "Hello there"},
	}, final.History)
}

func TestEngine_BroadcastReachesAllSyncedSessions(t *testing.T) {
	e, rep := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "pong"),
	})

	s1, err := e.CreateSession("")
	require.NoError(t, err)
	s2, err := e.CreateSession("")
	require.NoError(t, err)

	_, err = e.SetSyncMember(s1.ID, true)
	require.NoError(t, err)
	st, err := e.SetSyncMember(s2.ID, true)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	_, err = e.SetSharedInput("ping")
	require.NoError(t, err)

	res, err := e.Broadcast()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, res.Sent)
	assert.Equal(t, "", e.SyncState().SharedInput)

	for _, id := range []string{s1.ID, s2.ID} {
		final := waitIdle(t, e, id, 2)
		assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "ping"}, final.History[0])
	}

	rep.mu.Lock()
	assert.Equal(t, 2, rep.sent)
	rep.mu.Unlock()
}

func TestEngine_BroadcastSkipsBusySession(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: gated(release),
	})

	a, err := e.CreateSession("")
	require.NoError(t, err)
	b, err := e.CreateSession("")
	require.NoError(t, err)
	_, err = e.SetSyncMember(a.ID, true)
	require.NoError(t, err)
	_, err = e.SetSyncMember(b.ID, true)
	require.NoError(t, err)

	_, err = e.Send(b.ID, "busy")
	require.NoError(t, err)
	before, err := e.Session(b.ID)
	require.NoError(t, err)
	require.Equal(t, conversation.StateAwaiting, before.State)

	_, err = e.SetSharedInput("ping")
	require.NoError(t, err)
	res, err := e.Broadcast()
	require.NoError(t, err)

	assert.Equal(t, []string{a.ID}, res.Sent)
	assert.Equal(t, []string{b.ID}, res.Skipped)

	after, err := e.Session(b.ID)
	require.NoError(t, err)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.State, after.State)

	aSnap, err := e.Session(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ping", aSnap.History[0].Content)
}

func TestEngine_FaultIsIsolatedToSession(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo:    fragmentsThen(errors.New("rate limited")),
		catalog.ChatGPT: fragmentsThen(nil, "fine"),
	})

	bad, err := e.CreateSession(catalog.Echo)
	require.NoError(t, err)
	good, err := e.CreateSession(catalog.ChatGPT)
	require.NoError(t, err)
	_, err = e.SetSyncMember(bad.ID, true)
	require.NoError(t, err)
	_, err = e.SetSyncMember(good.ID, true)
	require.NoError(t, err)
	_, err = e.SetSharedInput("x")
	require.NoError(t, err)

	_, err = e.Broadcast()
	require.NoError(t, err)

	failed := waitIdle(t, e, bad.ID, 1)
	assert.Equal(t, "rate limited", failed.LastFault)
	assert.Equal(t, []provider.Message{{Role: provider.RoleUser, Content: "x"}}, failed.History)

	ok := waitIdle(t, e, good.ID, 2)
	assert.Equal(t, "fine", ok.History[1].Content)
	assert.Empty(t, ok.LastFault)
}

func TestEngine_RemoveSessionLeavesSync(t *testing.T) {
	e, rep := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "ok"),
	})

	s1, err := e.CreateSession("")
	require.NoError(t, err)
	_, err = e.SetSyncMember(s1.ID, true)
	require.NoError(t, err)
	require.True(t, e.SyncState().Enabled)

	require.NoError(t, e.RemoveSession(s1.ID))
	st := e.SyncState()
	assert.False(t, st.Enabled)
	assert.Empty(t, st.SyncedSessionIDs)

	require.NoError(t, e.RemoveSession(s1.ID), "removal is idempotent")

	_, err = e.Session(s1.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.SetSharedInput("ping")
	require.NoError(t, err)
	_, err = e.Broadcast()
	assert.ErrorIs(t, err, broadcast.ErrSyncDisabled)

	rep.mu.Lock()
	assert.Equal(t, 0, rep.active)
	rep.mu.Unlock()
}

func TestEngine_RemoveCancelsInFlightTurn(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: gated(release),
	})

	s1, err := e.CreateSession("")
	require.NoError(t, err)
	updates, _ := e.Subscribe(t.Context(), s1.ID)

	_, err = e.Send(s1.ID, "hello")
	require.NoError(t, err)
	require.NoError(t, e.RemoveSession(s1.ID))

	var kinds []UpdateKind
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case u := <-updates:
			kinds = append(kinds, u.Kind)
			if u.Kind == UpdateRemoved {
				break loop
			}
		case <-timeout:
			t.Fatal("no removed update")
		}
	}
	assert.Equal(t, []UpdateKind{UpdateSession, UpdateRemoved}, kinds)

	select {
	case u := <-updates:
		t.Fatalf("unexpected update after removal: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_UnknownSessionAndModel(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "ok"),
	})

	_, err := e.Send("missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.SetModel("missing", catalog.Echo)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.SetModelIfEmpty("missing", catalog.Echo)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.SetSyncMember("missing", true)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.CreateSession("llama")
	assert.ErrorIs(t, err, catalog.ErrUnknownModel)

	s, err := e.CreateSession("")
	require.NoError(t, err)
	_, err = e.SetModel(s.ID, catalog.Claude)
	assert.ErrorIs(t, err, catalog.ErrUnknownModel, "claude is not in this catalog")
}

func TestEngine_SetModelIfEmptyKeepsHistory(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo:   fragmentsThen(nil, "ok"),
		catalog.Claude: fragmentsThen(nil, "hi"),
	})
	s, err := e.CreateSession("")
	require.NoError(t, err)

	_, err = e.Send(s.ID, "hello")
	require.NoError(t, err)
	waitIdle(t, e, s.ID, 2)

	_, err = e.SetModelIfEmpty(s.ID, catalog.Claude)
	assert.ErrorIs(t, err, conversation.ErrHistoryNotEmpty)
	snap, err := e.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.Echo, snap.Model)
	assert.Len(t, snap.History, 2)
}

func TestEngine_NewRejectsUnknownDefault(t *testing.T) {
	_, err := New(Options{
		Catalog:      catalog.NewWithCapabilities(map[string]provider.Capability{catalog.Echo: provider.NewEcho(0)}),
		DefaultModel: catalog.Gemini,
	})
	assert.ErrorIs(t, err, catalog.ErrUnknownModel)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestEngine_SubscribeAllSeesSyncAndSessions(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "ok"),
	})
	all, _ := e.Subscribe(t.Context(), "")

	s, err := e.CreateSession("")
	require.NoError(t, err)
	_, err = e.SetSyncMember(s.ID, true)
	require.NoError(t, err)

	var sawSession, sawSync bool
	timeout := time.After(time.Second)
	for !sawSession || !sawSync {
		select {
		case u := <-all:
			switch u.Kind {
			case UpdateSession:
				sawSession = u.SessionID == s.ID
			case UpdateSync:
				sawSync = u.Sync != nil && u.Sync.Enabled
			}
		case <-timeout:
			t.Fatal("missing updates on wildcard subscription")
		}
	}
}

func TestEngine_SlowSubscriberSeesFinalState(t *testing.T) {
	frags := make([]string, 200)
	for i := range frags {
		frags[i] = "x"
	}
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, frags...),
	})

	s, err := e.CreateSession("")
	require.NoError(t, err)
	updates, _ := e.Subscribe(t.Context(), s.ID)

	_, err = e.Send(s.ID, "go")
	require.NoError(t, err)
	waitIdle(t, e, s.ID, 2)

	var last *conversation.Snapshot
	for {
		select {
		case u := <-updates:
			last = u.Session
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, conversation.StateIdle, last.State)
	require.Len(t, last.History, 2)
	assert.Len(t, last.History[1].Content, 200)
}

func TestEngine_SlowSubscriberSeesFaultReason(t *testing.T) {
	frags := make([]string, 200)
	for i := range frags {
		frags[i] = "x"
	}
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(errors.New("quota exceeded"), frags...),
	})

	s, err := e.CreateSession("")
	require.NoError(t, err)
	updates, _ := e.Subscribe(t.Context(), s.ID)

	_, err = e.Send(s.ID, "go")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := e.Session(s.ID)
		return err == nil && snap.State == conversation.StateIdle && snap.LastFault != ""
	}, 2*time.Second, 5*time.Millisecond)

	var last *conversation.Snapshot
	for {
		select {
		case u := <-updates:
			last = u.Session
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, conversation.StateIdle, last.State)
	assert.Contains(t, last.LastFault, "quota exceeded")
	assert.Empty(t, last.Draft)
}

func TestEngine_SessionsInCreationOrder(t *testing.T) {
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: fragmentsThen(nil, "ok"),
	})
	var ids []string
	for range 3 {
		s, err := e.CreateSession("")
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	var got []string
	for _, s := range e.Sessions() {
		got = append(got, s.ID)
	}
	assert.Equal(t, ids, got)
	assert.Len(t, e.Models(), 1)
}

func TestEngine_CloseRejectsFurtherWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	e, _ := newEngine(t, map[string]provider.Capability{
		catalog.Echo: gated(release),
	})
	updates, _ := e.Subscribe(t.Context(), "")

	s, err := e.CreateSession("")
	require.NoError(t, err)
	_, err = e.Send(s.ID, "hi")
	require.NoError(t, err)

	e.Close()

	_, err = e.CreateSession("")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Broadcast()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, e.Sessions())

	for range updates {
	}
}
