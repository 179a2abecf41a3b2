package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for report section titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// TableHeaderStyle styles the header row of report tables.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	Padding(0, 1)

// CellStyle is the base style of report table cells.
var CellStyle = lipgloss.NewStyle().
	Padding(0, 1)

// HelpStyle is used for hints and empty-state text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle colors table borders.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// ActivationStyle returns a color-coded style for an account activation flag.
func ActivationStyle(status string) lipgloss.Style {
	base := CellStyle.Bold(true)

	switch status {
	case "Y":
		return base.Foreground(ColorGreen)
	case "N":
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// OutcomeStyle returns a color-coded style for an activation event outcome.
func OutcomeStyle(outcome string) lipgloss.Style {
	base := CellStyle.Bold(true)

	switch outcome {
	case "activated", "already_activated":
		return base.Foreground(ColorGreen)
	case "token_expired_email_resent":
		return base.Foreground(ColorYellow)
	case "aborted", "skipped":
		return base.Foreground(ColorOrange)
	case "failed":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
