// Package cli provides styled terminal output and prompts for the pulse commands.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor  = lipgloss.Color("#5B8DEF")
	successColor = lipgloss.Color("#3FB950")
	warningColor = lipgloss.Color("#D29922")
	errorColor   = lipgloss.Color("#F85149")
	infoColor    = lipgloss.Color("#79C0FF")
	subtleColor  = lipgloss.Color("#6E7681")
)

var (
	// TitleStyle heads the output of a command.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(infoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(subtleColor)

	// ParentStyle marks the best color of a security; ChildStyle the rest of
	// its group.
	ParentStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	ChildStyle  = lipgloss.NewStyle().Foreground(subtleColor)

	PromptStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
)

const (
	successIcon = "✓"
	errorIcon   = "✗"
	warningIcon = "⚠️"
	infoIcon    = "ℹ️"
	titleIcon   = "📈"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(successIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(errorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(warningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(infoIcon + " " + message)
}

// FormatTitle formats a command heading.
func FormatTitle(title string) string {
	return TitleStyle.Render(titleIcon + " " + title)
}

// FormatPrompt formats a question that waits for an answer on the same line.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}
