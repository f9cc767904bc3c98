// ABOUTME: bubbletea model for the multi-session terminal UI
// ABOUTME: Applies engine updates to local snapshots and maps keys to engine operations

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389/parley/internal/broadcast"
	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/engine"
	"github.com/2389/parley/internal/transcript"
)

// updateMsg carries one engine update into the program.
type updateMsg engine.Update

// eventsClosedMsg is sent once the engine update stream ends.
type eventsClosedMsg struct{}

type composerMode int

const (
	modeSession composerMode = iota
	modeSync
)

// pendingSwitch is a model change waiting for y/n because it clears history.
type pendingSwitch struct {
	sessionID string
	model     string
}

type model struct {
	engine *engine.Engine
	events <-chan engine.Update
	logger *slog.Logger

	models   []catalog.Entry
	sessions []conversation.Snapshot
	sync     broadcast.State
	focused  int

	mode     composerMode
	composer textinput.Model
	shared   textinput.Model
	drafts   map[string]string // unsent composer text per session
	removed  map[string]bool   // ids whose late updates are ignored
	pending  *pendingSwitch
	status   string
	spin     spinner.Model

	// exportDir receives transcripts written with ctrl+e.
	exportDir string

	width  int
	height int
}

func newModel(ctx context.Context, eng *engine.Engine, logger *slog.Logger) *model {
	if logger == nil {
		logger = slog.Default()
	}
	// subscribe first so no update between the snapshot below and the
	// first read is lost
	events, _ := eng.Subscribe(ctx, "")

	composer := textinput.New()
	composer.Placeholder = "Type a message"
	composer.Prompt = "› "
	composer.CharLimit = 8000
	composer.Focus()

	shared := textinput.New()
	shared.Placeholder = "Broadcast to every synced session"
	shared.Prompt = "⇶ "
	shared.CharLimit = 8000

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))

	exportDir, err := os.Getwd()
	if err != nil {
		exportDir = os.TempDir()
	}

	return &model{
		engine:    eng,
		events:    events,
		logger:    logger.With("component", "tui"),
		models:    eng.Models(),
		sessions:  eng.Sessions(),
		sync:      eng.SyncState(),
		composer:  composer,
		shared:    shared,
		drafts:    make(map[string]string),
		removed:   make(map[string]bool),
		spin:      spin,
		exportDir: exportDir,
	}
}

func waitForUpdate(events <-chan engine.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return updateMsg(u)
	}
}

// Init starts the update pump and the spinner.
func (m *model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.events), m.spin.Tick, textinput.Blink)
}

// Update processes bubbletea messages and updates the model state.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.composer.Width = max(msg.Width-6, 10)
		m.shared.Width = max(msg.Width-6, 10)
		return m, nil

	case updateMsg:
		m.applyUpdate(engine.Update(msg))
		return m, waitForUpdate(m.events)

	case eventsClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateInput(msg)
}

func (m *model) applyUpdate(u engine.Update) {
	switch u.Kind {
	case engine.UpdateSession:
		if u.Session == nil || m.removed[u.SessionID] {
			return
		}
		if i := m.indexOf(u.SessionID); i >= 0 {
			m.sessions[i] = *u.Session
		} else {
			m.sessions = append(m.sessions, *u.Session)
		}
	case engine.UpdateRemoved:
		m.removed[u.SessionID] = true
		i := m.indexOf(u.SessionID)
		if i < 0 {
			return
		}
		m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
		delete(m.drafts, u.SessionID)
		if m.pending != nil && m.pending.sessionID == u.SessionID {
			m.pending = nil
		}
		if m.focused >= len(m.sessions) {
			m.focused = max(len(m.sessions)-1, 0)
		}
	case engine.UpdateSync:
		if u.Sync != nil {
			m.sync = *u.Sync
		}
	}
}

func (m *model) indexOf(id string) int {
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *model) focusedSession() (conversation.Snapshot, bool) {
	if m.focused < 0 || m.focused >= len(m.sessions) {
		return conversation.Snapshot{}, false
	}
	return m.sessions[m.focused], true
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.pending != nil {
		p := m.pending
		m.pending = nil
		if strings.EqualFold(msg.String(), "y") {
			m.applyModel(p.sessionID, p.model, true)
		} else {
			m.status = "model unchanged"
		}
		return m, nil
	}

	switch msg.String() {
	case "tab":
		m.moveFocus(1)
		return m, nil
	case "shift+tab":
		m.moveFocus(-1)
		return m, nil
	case "ctrl+n":
		m.newSession()
		return m, nil
	case "ctrl+x":
		m.closeSession()
		return m, nil
	case "ctrl+t":
		m.cycleModel()
		return m, nil
	case "ctrl+g":
		m.toggleSync()
		return m, nil
	case "ctrl+b":
		return m, m.toggleMode()
	case "ctrl+e":
		m.exportTranscript()
		return m, nil
	case "enter":
		if m.mode == modeSync {
			m.broadcast()
		} else {
			m.send()
		}
		return m, nil
	}

	return m.updateInput(msg)
}

func (m *model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.mode == modeSync {
		before := m.shared.Value()
		m.shared, cmd = m.shared.Update(msg)
		if m.shared.Value() != before {
			if _, err := m.engine.SetSharedInput(m.shared.Value()); err != nil {
				m.setError(err)
			}
		}
		return m, cmd
	}
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m *model) moveFocus(delta int) {
	if len(m.sessions) == 0 {
		return
	}
	if s, ok := m.focusedSession(); ok {
		m.drafts[s.ID] = m.composer.Value()
	}
	m.focused = (m.focused + delta + len(m.sessions)) % len(m.sessions)
	s, _ := m.focusedSession()
	m.composer.SetValue(m.drafts[s.ID])
	m.composer.CursorEnd()
	m.status = ""
}

func (m *model) newSession() {
	if s, ok := m.focusedSession(); ok {
		m.drafts[s.ID] = m.composer.Value()
	}
	snap, err := m.engine.CreateSession("")
	if err != nil {
		m.setError(err)
		return
	}
	if m.indexOf(snap.ID) < 0 {
		m.sessions = append(m.sessions, snap)
	}
	m.focused = m.indexOf(snap.ID)
	m.composer.Reset()
	m.status = ""
}

func (m *model) closeSession() {
	s, ok := m.focusedSession()
	if !ok {
		return
	}
	if err := m.engine.RemoveSession(s.ID); err != nil {
		m.setError(err)
		return
	}
	m.applyUpdate(engine.Update{Kind: engine.UpdateRemoved, SessionID: s.ID})
	if next, ok := m.focusedSession(); ok {
		m.composer.SetValue(m.drafts[next.ID])
	} else {
		m.composer.Reset()
	}
}

// cycleModel moves the focused session to the next model. A session with
// history asks first because switching clears it.
func (m *model) cycleModel() {
	s, ok := m.focusedSession()
	if !ok || len(m.models) == 0 {
		return
	}
	next := m.models[0].ID
	for i, e := range m.models {
		if e.ID == s.Model {
			next = m.models[(i+1)%len(m.models)].ID
			break
		}
	}
	if next == s.Model {
		return
	}
	if len(s.History) > 0 || s.State.Busy() {
		m.pending = &pendingSwitch{sessionID: s.ID, model: next}
		return
	}
	m.applyModel(s.ID, next, false)
}

// applyModel switches the model. Unconfirmed switches only succeed on an
// empty session; if a turn started since the last update, it asks instead.
func (m *model) applyModel(id, modelID string, confirmed bool) {
	var snap conversation.Snapshot
	var err error
	if confirmed {
		snap, err = m.engine.SetModel(id, modelID)
	} else {
		snap, err = m.engine.SetModelIfEmpty(id, modelID)
	}
	if errors.Is(err, conversation.ErrHistoryNotEmpty) {
		m.pending = &pendingSwitch{sessionID: id, model: modelID}
		return
	}
	if err != nil {
		m.setError(err)
		return
	}
	if i := m.indexOf(id); i >= 0 {
		m.sessions[i] = snap
	}
	m.status = "switched to " + m.title(modelID)
}

func (m *model) toggleSync() {
	s, ok := m.focusedSession()
	if !ok {
		return
	}
	st, err := m.engine.SetSyncMember(s.ID, !s.SyncMember)
	if err != nil {
		m.setError(err)
		return
	}
	m.sync = st
	if i := m.indexOf(s.ID); i >= 0 {
		m.sessions[i].SyncMember = !s.SyncMember
	}
	m.status = ""
}

func (m *model) toggleMode() tea.Cmd {
	if m.mode == modeSync {
		m.mode = modeSession
		m.shared.Blur()
		return m.composer.Focus()
	}
	m.mode = modeSync
	m.composer.Blur()
	m.shared.SetValue(m.sync.SharedInput)
	m.shared.CursorEnd()
	return m.shared.Focus()
}

// sessionLocked reports whether the focused composer is disabled because the
// session takes its input from the broadcast composer.
func (m *model) sessionLocked(s conversation.Snapshot) bool {
	return m.sync.Enabled && s.SyncMember
}

func (m *model) send() {
	s, ok := m.focusedSession()
	if !ok {
		m.status = "no session; press ctrl+n"
		return
	}
	if m.sessionLocked(s) {
		m.status = "session is synced; use the broadcast composer (ctrl+b)"
		return
	}
	snap, err := m.engine.Send(s.ID, m.composer.Value())
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyMessage) {
			return
		}
		m.setError(err)
		return
	}
	m.sessions[m.focused] = snap
	m.composer.Reset()
	delete(m.drafts, s.ID)
	m.status = ""
}

func (m *model) broadcast() {
	if _, err := m.engine.SetSharedInput(m.shared.Value()); err != nil {
		m.setError(err)
		return
	}
	res, err := m.engine.Broadcast()
	switch {
	case errors.Is(err, broadcast.ErrEmptyInput):
		return
	case err != nil:
		m.setError(err)
		return
	}
	m.shared.Reset()
	m.status = fmt.Sprintf("sent to %d session(s)", len(res.Sent))
	if len(res.Skipped) > 0 {
		m.status += fmt.Sprintf(", %d busy", len(res.Skipped))
	}
}

func (m *model) exportTranscript() {
	s, ok := m.focusedSession()
	if !ok {
		return
	}
	path, err := writeTranscript(m.exportDir, s, m.title(s.Model))
	if err != nil {
		m.setError(err)
		return
	}
	m.status = "transcript saved to " + path
}

func writeTranscript(dir string, s conversation.Snapshot, title string) (string, error) {
	short := s.ID
	if len(short) > 8 {
		short = short[:8]
	}
	path := filepath.Join(dir, "parley-"+short+".md")
	if err := os.WriteFile(path, []byte(transcript.Markdown(s, title)), 0644); err != nil {
		return "", fmt.Errorf("writing transcript: %w", err)
	}
	return path, nil
}

func (m *model) title(modelID string) string {
	for _, e := range m.models {
		if e.ID == modelID {
			return e.Title
		}
	}
	return modelID
}

func (m *model) entry(modelID string) (catalog.Entry, bool) {
	for _, e := range m.models {
		if e.ID == modelID {
			return e, true
		}
	}
	return catalog.Entry{}, false
}

func (m *model) setError(err error) {
	m.logger.Warn("operation failed", "error", err)
	m.status = err.Error()
}
