// ABOUTME: lipgloss palette and styles for the terminal UI
// ABOUTME: Column borders change color with focus and sync membership

package main

import "github.com/charmbracelet/lipgloss"

const (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSuccess   = lipgloss.Color("#10B981")
	colorInfo      = lipgloss.Color("#3B82F6")
	colorError     = lipgloss.Color("#EF4444")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorGray      = lipgloss.Color("#6B7280")
	colorLightGray = lipgloss.Color("#9CA3AF")
)

var (
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	focusedColumnStyle = columnStyle.BorderForeground(colorPrimary)
	syncedColumnStyle  = columnStyle.BorderForeground(colorInfo)

	titleStyle   = lipgloss.NewStyle().Bold(true)
	stateStyle   = lipgloss.NewStyle().Foreground(colorLightGray)
	syncTagStyle = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)

	userStyle      = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	faultStyle     = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle     = lipgloss.NewStyle().Foreground(colorGray)

	statusStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	confirmStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(colorGray)
)
