package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/engine"
	"github.com/2389/parley/internal/provider"
)

func reply(text string) provider.Capability {
	return provider.CapabilityFunc(func(ctx context.Context, history []provider.Message) (<-chan provider.Chunk, error) {
		out := make(chan provider.Chunk, 1)
		out <- provider.Chunk{Text: text}
		close(out)
		return out, nil
	})
}

func newTestModel(t *testing.T, sessions int) (*model, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Catalog: catalog.NewWithCapabilities(map[string]provider.Capability{
			catalog.Claude: reply("from claude"),
			catalog.Echo:   reply("from echo"),
		}),
		DefaultModel: catalog.Echo,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	for range sessions {
		_, err := eng.CreateSession("")
		require.NoError(t, err)
	}
	m := newModel(t.Context(), eng, nil)
	m.exportDir = t.TempDir()
	return m, eng
}

func key(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func typeText(m *model, s string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// pump applies engine updates until cond holds.
func pump(t *testing.T, m *model, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case u, ok := <-m.events:
			require.True(t, ok, "update stream closed")
			m.Update(updateMsg(u))
		case <-deadline:
			t.Fatal("timed out waiting for updates")
		}
	}
}

func idleWith(m *model, id string, historyLen int) func() bool {
	return func() bool {
		i := m.indexOf(id)
		return i >= 0 && m.sessions[i].State == conversation.StateIdle && len(m.sessions[i].History) == historyLen
	}
}

func TestNewModel_LoadsEngineState(t *testing.T) {
	m, _ := newTestModel(t, 2)
	assert.Len(t, m.sessions, 2)
	assert.Len(t, m.models, 2)
	assert.False(t, m.sync.Enabled)
	assert.Equal(t, 0, m.focused)

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
	view := m.View()
	assert.Contains(t, view, "Echo")
	assert.Contains(t, view, "local loopback model")
}

func TestSend_ThroughComposer(t *testing.T) {
	m, eng := newTestModel(t, 1)
	id := m.sessions[0].ID

	typeText(m, "hello")
	assert.Equal(t, "hello", m.composer.Value())

	m.Update(key(tea.KeyEnter))
	assert.Empty(t, m.composer.Value())
	assert.Equal(t, conversation.StateAwaiting, m.sessions[0].State)

	pump(t, m, idleWith(m, id, 2))
	assert.Equal(t, "from echo", m.sessions[0].History[1].Content)

	snap, err := eng.Session(id)
	require.NoError(t, err)
	assert.Len(t, snap.History, 2)
	assert.Contains(t, m.View(), "from echo")
}

func TestSend_BlankIsIgnored(t *testing.T) {
	m, _ := newTestModel(t, 1)
	typeText(m, "   ")
	m.Update(key(tea.KeyEnter))
	assert.Empty(t, m.status)
	assert.Empty(t, m.sessions[0].History)
}

func TestNewSessionAndFocus(t *testing.T) {
	m, eng := newTestModel(t, 1)
	first := m.sessions[0].ID

	typeText(m, "draft for first")
	m.Update(key(tea.KeyCtrlN))
	require.Len(t, m.sessions, 2)
	assert.Equal(t, 1, m.focused)
	assert.Empty(t, m.composer.Value())
	assert.Len(t, eng.Sessions(), 2)

	m.Update(key(tea.KeyTab))
	assert.Equal(t, 0, m.focused)
	assert.Equal(t, first, m.sessions[m.focused].ID)
	assert.Equal(t, "draft for first", m.composer.Value(), "drafts survive focus changes")

	m.Update(key(tea.KeyShiftTab))
	assert.Equal(t, 1, m.focused)
}

func TestCycleModel_ConfirmsWhenHistoryExists(t *testing.T) {
	m, eng := newTestModel(t, 1)
	id := m.sessions[0].ID

	// Claude comes before Echo in catalog order, so echo cycles to claude
	m.Update(key(tea.KeyCtrlT))
	assert.Nil(t, m.pending, "empty session switches immediately")
	assert.Equal(t, catalog.Claude, m.sessions[0].Model)

	typeText(m, "hi")
	m.Update(key(tea.KeyEnter))
	pump(t, m, idleWith(m, id, 2))

	m.Update(key(tea.KeyCtrlT))
	require.NotNil(t, m.pending)
	assert.Contains(t, m.View(), "This clears the conversation")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Nil(t, m.pending)
	assert.Equal(t, "model unchanged", m.status)
	assert.Len(t, m.sessions[0].History, 2)

	m.Update(key(tea.KeyCtrlT))
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	assert.Equal(t, catalog.Echo, m.sessions[0].Model)
	assert.Empty(t, m.sessions[0].History)

	snap, err := eng.Session(id)
	require.NoError(t, err)
	assert.Equal(t, catalog.Echo, snap.Model)
	assert.Empty(t, snap.History)
}

func TestSyncBroadcast(t *testing.T) {
	m, eng := newTestModel(t, 3)
	a, b, c := m.sessions[0].ID, m.sessions[1].ID, m.sessions[2].ID

	m.Update(key(tea.KeyCtrlG))
	m.Update(key(tea.KeyTab))
	m.Update(key(tea.KeyCtrlG))
	assert.True(t, m.sync.Enabled)
	assert.Equal(t, []string{a, b}, m.sync.SyncedSessionIDs)

	typeText(m, "direct")
	m.Update(key(tea.KeyEnter))
	assert.Contains(t, m.status, "session is synced")
	assert.Empty(t, m.sessions[1].History)

	m.Update(key(tea.KeyCtrlB))
	assert.Equal(t, modeSync, m.mode)
	typeText(m, "together")
	assert.Equal(t, "together", eng.SyncState().SharedInput, "shared input mirrors the composer")

	m.Update(key(tea.KeyEnter))
	assert.Equal(t, "sent to 2 session(s)", m.status)
	assert.Empty(t, m.shared.Value())

	pump(t, m, func() bool { return idleWith(m, a, 2)() && idleWith(m, b, 2)() })
	assert.Equal(t, "together", m.sessions[0].History[0].Content)
	assert.Empty(t, m.sessions[m.indexOf(c)].History)

	m.Update(key(tea.KeyCtrlB))
	assert.Equal(t, modeSession, m.mode)
}

func TestCloseSession(t *testing.T) {
	m, eng := newTestModel(t, 2)
	gone := m.sessions[0].ID

	m.Update(key(tea.KeyCtrlG))
	m.Update(key(tea.KeyCtrlX))
	require.Len(t, m.sessions, 1)
	assert.Equal(t, 0, m.focused)
	assert.NotEqual(t, gone, m.sessions[0].ID)
	assert.Len(t, eng.Sessions(), 1)

	// drain queued updates; none may bring the closed session back
	pump(t, m, func() bool { return !m.sync.Enabled })
	for {
		select {
		case u := <-m.events:
			m.Update(updateMsg(u))
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, -1, m.indexOf(gone))

	m.Update(key(tea.KeyCtrlX))
	assert.Empty(t, m.sessions)
	assert.Contains(t, m.View(), "No sessions")
}

func TestExportTranscript(t *testing.T) {
	m, _ := newTestModel(t, 1)
	id := m.sessions[0].ID

	typeText(m, "save me")
	m.Update(key(tea.KeyEnter))
	pump(t, m, idleWith(m, id, 2))

	m.Update(key(tea.KeyCtrlE))
	require.True(t, strings.HasPrefix(m.status, "transcript saved to "), m.status)

	path := filepath.Join(m.exportDir, "parley-"+id[:8]+".md")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## You\n\nsave me")
	assert.Contains(t, string(data), "from echo")
}

func TestEventsClosedQuits(t *testing.T) {
	m, _ := newTestModel(t, 0)
	_, cmd := m.Update(eventsClosedMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd", 2))
	assert.Equal(t, "a", tail("a", 3))
}
