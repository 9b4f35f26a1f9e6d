// Package ui renders loop progress for a terminal and asks the user to
// approve blocked tool calls.
package ui

import (
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for the UI.
type Theme struct {
	Primary   lipgloss.Color // tool names, headings
	Secondary lipgloss.Color // previews, links
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color // approval prompts, denials
	Muted     lipgloss.Color // reasoning, stats
}

// DefaultTheme returns the default color theme (gruvbox).
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"),
		Secondary: lipgloss.Color("#83a598"),
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"),
		Warning:   lipgloss.Color("#fabd2f"),
		Muted:     lipgloss.Color("#928374"),
	}
}

// Styles are the lipgloss styles derived from a Theme.
type Styles struct {
	Tool      lipgloss.Style
	Preview   lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Reasoning lipgloss.Style
	Muted     lipgloss.Style
}

// NewStyles builds the styles for theme.
func NewStyles(theme *Theme) *Styles {
	return &Styles{
		Tool:      lipgloss.NewStyle().Foreground(theme.Primary).Bold(true),
		Preview:   lipgloss.NewStyle().Foreground(theme.Secondary),
		Success:   lipgloss.NewStyle().Foreground(theme.Success),
		Error:     lipgloss.NewStyle().Foreground(theme.Error),
		Warning:   lipgloss.NewStyle().Foreground(theme.Warning),
		Reasoning: lipgloss.NewStyle().Foreground(theme.Muted).Italic(true),
		Muted:     lipgloss.NewStyle().Foreground(theme.Muted),
	}
}

// PlainStyles renders everything unstyled, for pipes and logs.
func PlainStyles() *Styles {
	s := lipgloss.NewStyle()
	return &Styles{Tool: s, Preview: s, Success: s, Error: s, Warning: s, Reasoning: s, Muted: s}
}

// GlamourStyle is glamour's dark style with the theme's accents and no
// document margin.
func GlamourStyle(theme *Theme) ansi.StyleConfig {
	style := styles.DarkStyleConfig
	primary := string(theme.Primary)
	secondary := string(theme.Secondary)
	margin := uint(0)

	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &margin
	style.Heading.Color = &primary
	style.Link.Color = &secondary
	style.LinkText.Color = &secondary
	return style
}
