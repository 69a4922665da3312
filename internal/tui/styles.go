package tui

import "github.com/charmbracelet/lipgloss"

// Dracula palette
var (
	colorPurple  = lipgloss.Color("#bd93f9")
	colorPink    = lipgloss.Color("#ff79c6")
	colorGreen   = lipgloss.Color("#50fa7b")
	colorRed     = lipgloss.Color("#ff5555")
	colorOrange  = lipgloss.Color("#ffb86c")
	colorFg      = lipgloss.Color("#f8f8f2")
	colorComment = lipgloss.Color("#6272a4")
	colorLine    = lipgloss.Color("#44475a")
)

var (
	appStyle = lipgloss.NewStyle().Padding(DefaultPaddingX, 2).Foreground(colorFg)

	titleBarStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			Padding(DefaultPaddingY, DefaultPaddingX).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorPurple).
			BorderBottom(true)

	assetCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorLine).
			Padding(DefaultPaddingY, DefaultPaddingX)
	focusedCardStyle = assetCardStyle.BorderForeground(colorPink)

	assetNameStyle = lipgloss.NewStyle().Foreground(colorPurple).Bold(true)
	detailStyle    = lipgloss.NewStyle().Foreground(colorComment).Italic(true)
	failureStyle   = lipgloss.NewStyle().Foreground(colorRed)
	keysStyle      = lipgloss.NewStyle().Foreground(colorComment).Padding(DefaultPaddingY, DefaultPaddingX)
)

// stateStyle colours an asset state badge.
func stateStyle(state string, failed bool) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch {
	case failed:
		return base.Foreground(colorRed)
	case state == "downloaded":
		return base.Foreground(colorGreen)
	case state == "downloading":
		return base.Foreground(colorOrange)
	default:
		return base.Foreground(colorComment)
	}
}
