package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Spacing constants for consistent layout (in characters)
const (
	SpaceXS = 1
	SpaceSM = 2
	SpaceMD = 3
	SpaceLG = 4
)

// Adaptive colors for light and dark terminals. Light mode colors tuned
// for WCAG AA compliance (contrast ratio >= 4.5:1).
var (
	ColorBg          = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#282A36"}
	ColorBgSubtle    = lipgloss.AdaptiveColor{Light: "#E8E8E8", Dark: "#363949"}
	ColorBgHighlight = lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#44475A"}
	ColorText        = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F8F8F2"}
	ColorSubtext     = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BFBFBF"}
	ColorMuted       = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#6272A4"}

	ColorPrimary = lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"}
	ColorDanger  = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}

	// Driver badge backgrounds (saturated, Jira-badge style)
	ColorDriverFSBg = lipgloss.AdaptiveColor{Light: "#2684FF", Dark: "#4C9AFF"} // Blue
	ColorDriverDBBg = lipgloss.AdaptiveColor{Light: "#36B37E", Dark: "#36B37E"} // Green
	ColorBadgeText  = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}
)

var (
	// PanelStyle is the default style for unfocused panels
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBgHighlight)

	// FocusedPanelStyle is the style for focused panels
	FocusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary)
)

// RenderDriverBadge returns a colored badge naming the root's backing
// driver. All badges are exactly 2 cells wide for consistent alignment.
func RenderDriverBadge(driver string) string {
	var bg lipgloss.AdaptiveColor
	var label string

	switch driver {
	case "fs":
		bg, label = ColorDriverFSBg, "FS"
	case "sqlite":
		bg, label = ColorDriverDBBg, "DB"
	default:
		bg, label = ColorBgSubtle, "··"
	}

	return lipgloss.NewStyle().
		Foreground(ColorBadgeText).
		Background(bg).
		Bold(true).
		Render(label)
}

// RenderDivider renders a horizontal divider line
func RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(ColorBgHighlight).
		Render(strings.Repeat("─", width))
}

// RenderSubtleDivider renders a more subtle divider using dots
func RenderSubtleDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(ColorMuted).
		Render(strings.Repeat("·", width))
}
