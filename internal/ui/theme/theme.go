// Package theme holds the colours and text styles of the CLI reports.
package theme

import (
	"charm.land/lipgloss/v2"
)

// Color palette
var (
	Primary   = lipgloss.Color("#8B5CF6") // Vivid Purple
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Accent    = lipgloss.Color("#F97316") // Orange
	Success   = lipgloss.Color("#22C55E") // Green
	Error     = lipgloss.Color("#F43F5E") // Rose
	Text      = lipgloss.Color("#F8FAFC") // White
	TextDim   = lipgloss.Color("#94A3B8") // Slate
	Border    = lipgloss.Color("#334155") // Slate
)

// Typography
var (
	Title  = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	Header = lipgloss.NewStyle().Bold(true).Foreground(Secondary)
	Body   = lipgloss.NewStyle().Foreground(Text)
	Hint   = lipgloss.NewStyle().Foreground(TextDim).Italic(true)
	Rule   = lipgloss.NewStyle().Foreground(Border)
)

// States
var (
	Good    = lipgloss.NewStyle().Foreground(Success).Bold(true)
	Warn    = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	Bad     = lipgloss.NewStyle().Foreground(Error).Bold(true)
	Neutral = lipgloss.NewStyle().Foreground(TextDim)
)

// Severity maps a misconception severity or difficulty bucket to a style.
func Severity(level string) lipgloss.Style {
	switch level {
	case "low", "Easy":
		return Good
	case "moderate", "Medium":
		return Warn
	case "high", "Hard":
		return Bad
	default:
		return Neutral
	}
}

// Flag renders a boolean as a coloured tick or cross.
func Flag(ok bool) string {
	if ok {
		return Good.Render("✓")
	}
	return Bad.Render("✗")
}
