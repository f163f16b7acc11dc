// Package cli renders taxflow reports for the terminal using lipgloss.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#5B8DEF")
	green  = lipgloss.Color("#4ECDC4")
	amber  = lipgloss.Color("#FFE66D")
	red    = lipgloss.Color("#FF6B6B")
	muted  = lipgloss.Color("#666666")
	rule   = lipgloss.Color("#333")
)

// Text styles shared by the report renderers and commands.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	WarningStyle = lipgloss.NewStyle().Foreground(amber)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	InfoStyle    = lipgloss.NewStyle().Foreground(accent)
	SubtleStyle  = lipgloss.NewStyle().Foreground(muted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(rule).
			Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(rule)

	cellStyle = lipgloss.NewStyle().PaddingRight(2)
)

const (
	reportIcon = "📊"
	searchIcon = "🔎"
)

func status(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

// FormatSuccess marks a completed action.
func FormatSuccess(message string) string { return status(SuccessStyle, "✓", message) }

// FormatError marks a failed record or action.
func FormatError(message string) string { return status(ErrorStyle, "✗", message) }

// FormatWarning marks a degraded or partial outcome.
func FormatWarning(message string) string { return status(WarningStyle, "⚠️", message) }

// FormatInfo is for neutral notices such as empty listings.
func FormatInfo(message string) string { return status(InfoStyle, "ℹ️", message) }

// FormatTitle renders a search heading.
func FormatTitle(title string) string { return TitleStyle.Render(searchIcon + " " + title) }

// RenderBox frames a report under a title.
func RenderBox(title, content string) string {
	heading := TitleStyle.UnsetMargins().Render(title)
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}
