// ABOUTME: Rendering for the terminal UI
// ABOUTME: Lays sessions out side by side and draws the active composer below them

package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/provider"
)

const (
	defaultWidth  = 100
	defaultHeight = 30

	// rows under the columns: composer, status, help
	footerRows = 4
	// border plus header line and separator
	columnChrome = 4
	minColumn    = 24
)

// View renders the whole screen.
func (m *model) View() string {
	width, height := m.width, m.height
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}

	var body string
	if len(m.sessions) == 0 {
		body = mutedStyle.Render("No sessions. Press ctrl+n to start one.")
	} else {
		body = m.renderColumns(width, height-footerRows)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.renderComposer(),
		m.renderStatus(),
		helpStyle.Render("tab focus • ctrl+n new • ctrl+x close • ctrl+t model • ctrl+g sync • ctrl+b broadcast • ctrl+e export • ctrl+c quit"),
	)
}

func (m *model) renderColumns(width, height int) string {
	n := len(m.sessions)
	colWidth := max(width/n-2, minColumn)
	inner := colWidth - 2
	bodyRows := max(height-columnChrome, 3)

	cols := make([]string, 0, n)
	for i, s := range m.sessions {
		style := columnStyle
		switch {
		case i == m.focused:
			style = focusedColumnStyle
		case s.SyncMember:
			style = syncedColumnStyle
		}
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(s, inner),
			mutedStyle.Render(strings.Repeat("─", inner)),
			tail(m.renderBody(s, inner), bodyRows),
		)
		cols = append(cols, style.Width(colWidth).Height(height-2).Render(content))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m *model) renderHeader(s conversation.Snapshot, width int) string {
	header := titleStyle.Render(m.title(s.Model))
	state := s.State.String()
	if s.State.Busy() {
		state = m.spin.View() + " " + state
	}
	header += " " + stateStyle.Render(state)
	if s.SyncMember {
		header += " " + syncTagStyle.Render("[sync]")
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(header)
}

func (m *model) renderBody(s conversation.Snapshot, width int) string {
	wrap := lipgloss.NewStyle().Width(width)
	title := m.title(s.Model)

	if len(s.History) == 0 && s.Draft == "" && s.LastFault == "" {
		card := titleStyle.Render(title)
		if e, ok := m.entry(s.Model); ok {
			card += "\n" + mutedStyle.Render(wrap.Render(e.Description))
		}
		return card
	}

	var b strings.Builder
	for _, msg := range s.History {
		if msg.Role == provider.RoleUser {
			b.WriteString(userStyle.Render("You"))
		} else {
			b.WriteString(assistantStyle.Render(title))
		}
		b.WriteString("\n")
		b.WriteString(wrap.Render(msg.Content))
		b.WriteString("\n\n")
	}
	if s.Draft != "" {
		b.WriteString(assistantStyle.Render(title))
		b.WriteString(" " + m.spin.View() + "\n")
		b.WriteString(wrap.Render(s.Draft))
		b.WriteString("\n")
	} else if s.State == conversation.StateAwaiting {
		b.WriteString(m.spin.View() + mutedStyle.Render(" waiting for "+title))
		b.WriteString("\n")
	}
	if s.LastFault != "" {
		b.WriteString(faultStyle.Render(wrap.Render("Error: " + s.LastFault)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderComposer() string {
	if m.mode == modeSync {
		label := syncTagStyle.Render("broadcast")
		if !m.sync.Enabled {
			label += mutedStyle.Render(" (no synced sessions; ctrl+g to add)")
		}
		return label + "\n" + m.shared.View()
	}

	s, ok := m.focusedSession()
	if ok && m.sessionLocked(s) {
		return mutedStyle.Render("synced: input comes from the broadcast composer (ctrl+b)") + "\n"
	}
	return mutedStyle.Render("message") + "\n" + m.composer.View()
}

func (m *model) renderStatus() string {
	if m.pending != nil {
		return confirmStyle.Render("Switch to " + m.title(m.pending.model) + "? This clears the conversation. (y/n)")
	}
	return statusStyle.Render(m.status)
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
