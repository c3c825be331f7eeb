package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single cyan accent, everything else stays quiet so note
// content remains the focus.
const (
	ColorCyan     = "51"  // Primary accent
	ColorCyanDim  = "30"  // Dimmed accent for secondary emphasis
	ColorWhite    = "255" // Titles
	ColorGray     = "245" // Scores, timestamps
	ColorDarkGray = "238" // Separators
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings, degraded notices
)

// Styles holds the lipgloss styles used by the CLI renderer.
type Styles struct {
	Header    lipgloss.Style
	Title     lipgloss.Style
	Score     lipgloss.Style
	Tag       lipgloss.Style
	Dim       lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Separator lipgloss.Style
}

// DefaultStyles returns the styled set for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Score:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Tag:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyanDim)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
	}
}

// NoColorStyles returns unstyled components for plain output (pipes, files,
// NO_COLOR environments).
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Title:     lipgloss.NewStyle(),
		Score:     lipgloss.NewStyle(),
		Tag:       lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Separator: lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
