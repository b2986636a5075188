package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleBorder = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("3")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("2")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("1")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// StateStyle picks the style for a workflow, step or task state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "completed":
		return StyleStatusComplete
	case "running", "submitted":
		return StyleStatusRunning
	case "failed", "cancelled":
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}
