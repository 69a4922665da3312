package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/hlsget/internal/engine/events"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.pollErr = msg.err
		if msg.err != nil {
			utils.Debug("TUI: poll failed: %v", msg.err)
		}
		for _, st := range msg.statuses {
			m.apply(st)
		}
		if m.allWatchedDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, pollLater(m.service)

	// Pushed straight from asset callbacks, ahead of the next poll
	case events.AssetProgressMsg:
		a := m.row(msg.Name)
		a.State = types.Downloading.String()
		a.Progress = msg.Coverage
		a.Err = ""
		return m, nil

	case events.AssetFinishedMsg:
		a := m.row(msg.Name)
		a.State = types.Downloaded.String()
		a.Progress = 1
		a.LocalPath = msg.RelativePath
		return m.quitIfDone()

	case events.AssetFailedMsg:
		a := m.row(msg.Name)
		a.State = types.NotDownloaded.String()
		if msg.Err != nil {
			a.Err = msg.Err.Error()
		}
		return m.quitIfDone()

	case actionErrMsg:
		m.pollErr = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		width := msg.Width - ProgressBarWidthOffset
		width = max(MinProgressBarWidth, min(width, MaxProgressBarWidth))
		for _, a := range m.assets {
			a.progress.Width = width
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.assets)-1 {
				m.cursor++
			}
		case "c":
			if a := m.selected(); a != nil {
				return m, m.action(func() error { return m.service.Cancel(a.Name) })
			}
		case "d":
			if a := m.selected(); a != nil && a.State == types.Downloaded.String() {
				return m, m.action(func() error { return m.service.Delete(a.Name) })
			}
		}
	}
	return m, nil
}

func (m RootModel) quitIfDone() (tea.Model, tea.Cmd) {
	if m.allWatchedDone() {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// action runs fn off the update loop and triggers a fresh poll.
func (m RootModel) action(fn func() error) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionErrMsg{err: err}
		}
		statuses, err := svc.List()
		return statusMsg{statuses: statuses, err: err}
	}
}

func (m *RootModel) apply(st types.AssetStatus) {
	a := m.row(st.Name)
	a.URL = st.URL
	a.State = st.State
	a.LocalPath = st.LocalPath
	a.Progress = st.Progress
	a.Err = st.Error
}

// row returns the row for name, appending one if needed.
func (m *RootModel) row(name string) *AssetModel {
	if a := m.find(name); a != nil {
		return a
	}
	a := newAssetModel(name)
	if m.width > 0 {
		a.progress.Width = max(MinProgressBarWidth, min(m.width-ProgressBarWidthOffset, MaxProgressBarWidth))
	}
	m.assets = append(m.assets, a)
	return a
}

func (m RootModel) selected() *AssetModel {
	if m.cursor < 0 || m.cursor >= len(m.assets) {
		return nil
	}
	return m.assets[m.cursor]
}
