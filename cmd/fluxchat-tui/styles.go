// ABOUTME: Lipgloss style constants for the chat TUI transcript, tool lines, and status bar.
// ABOUTME: Provides styleForTool to map invocation states to their display styles.
package main

import "github.com/charmbracelet/lipgloss"

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("170"))

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	toolRunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	toolCompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	toolFailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// styleForTool returns the display style for a tool invocation state.
func styleForTool(state string) lipgloss.Style {
	switch state {
	case "completed":
		return toolCompletedStyle
	case "failed":
		return toolFailedStyle
	default:
		return toolRunningStyle
	}
}
