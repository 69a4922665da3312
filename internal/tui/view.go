package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m RootModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "hlsget"
	if m.version != "" {
		title += " " + m.version
	}
	b.WriteString(titleBarStyle.Render(title))
	b.WriteString("\n")

	if len(m.assets) == 0 {
		b.WriteString(detailStyle.Render("No assets yet."))
		b.WriteString("\n")
	}

	for i, a := range m.assets {
		style := assetCardStyle
		if i == m.cursor {
			style = focusedCardStyle
		}
		b.WriteString(style.Render(renderAsset(a)))
		b.WriteString("\n")
	}

	if m.pollErr != nil {
		b.WriteString(failureStyle.Render("Error: " + m.pollErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(keysStyle.Render("↑/↓ select • c cancel • d delete • q quit"))

	return appStyle.Render(b.String())
}

func renderAsset(a *AssetModel) string {
	failed := a.Err != ""
	state := a.State
	if failed {
		state = "failed"
	}

	header := lipgloss.JoinHorizontal(lipgloss.Left,
		assetNameStyle.Width(NameColumnWidth).Render(truncateString(a.Name, NameColumnWidth-1)),
		stateStyle(a.State, failed).Render(state),
	)

	lines := []string{header, a.progress.ViewAs(a.Progress)}
	switch {
	case failed:
		lines = append(lines, failureStyle.Render(a.Err))
	case a.LocalPath != "":
		lines = append(lines, detailStyle.Render(a.LocalPath))
	case a.URL != "":
		lines = append(lines, detailStyle.Render(fmt.Sprintf("%.1f%% of %s", a.Progress*100, truncateString(a.URL, 60))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func truncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
