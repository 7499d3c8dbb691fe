package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Pulse colors cycle through green brightness levels while a run is active.
var pulseColors = []lipgloss.Color{
	"#73F59F",
	"#5FE08B",
	"#4BCC77",
	"#3FB86A",
	"#4BCC77",
	"#5FE08B",
}

// Layout frames the view: header, body, footer.
type Layout struct {
	Profile string
	Backend string
	Running bool
	Width   int
	Height  int
	Frame   int // incremented on each spinner tick
}

// BodyWidth returns the columns available for content after the
// two-column padding on each side.
func (l Layout) BodyWidth() int {
	return max(l.Width-4, 10)
}

// Render composes header + body + footer with symmetric padding.
func (l Layout) Render(body, helpText string) string {
	contentWidth := l.BodyWidth()

	var frame strings.Builder
	frame.WriteString("\n")

	left := TitleStyle.Render("quotafill") +
		lipgloss.NewStyle().Foreground(DimColor).Render(" · "+l.Profile)

	dot := lipgloss.NewStyle().Foreground(DimColor).Render("●")
	if l.Running {
		c := pulseColors[l.Frame%len(pulseColors)]
		dot = lipgloss.NewStyle().Foreground(c).Bold(true).Render("●")
	}
	right := lipgloss.NewStyle().Foreground(DimColor).Render(l.Backend) + " " + dot

	gap := max(contentWidth-lipgloss.Width(left)-lipgloss.Width(right)-1, 1)
	frame.WriteString("  " + left + strings.Repeat(" ", gap) + right + " ")
	frame.WriteString("\n\n")

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		frame.WriteString("  " + line + "\n")
	}

	// push the footer to the bottom
	if pad := l.Height - 6 - len(lines); pad > 0 {
		frame.WriteString(strings.Repeat("\n", pad))
	}

	frame.WriteString(HelpStyle.Render("  " + helpText))
	frame.WriteString("\n")
	return frame.String()
}
