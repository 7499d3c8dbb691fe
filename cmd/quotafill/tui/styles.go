package tui

import "github.com/charmbracelet/lipgloss"

// Shared colors.
var (
	AccentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	DimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	WarnColor   = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	GreenColor  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(AccentColor).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(DimColor).
			Width(11)

	ValueStyle = lipgloss.NewStyle().Bold(true)

	ResultStyle = lipgloss.NewStyle().
			Foreground(GreenColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(WarnColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	ButtonStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DimColor).
			Foreground(DimColor)

	ActiveButtonStyle = ButtonStyle.
				BorderForeground(AccentColor).
				Foreground(AccentColor).
				Bold(true)
)
