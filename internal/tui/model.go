package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// AssetModel is one row of the view
type AssetModel struct {
	Name      string
	URL       string
	State     string
	LocalPath string
	Progress  float64
	Err       string

	progress progress.Model
}

func newAssetModel(name string) *AssetModel {
	return &AssetModel{
		Name:     name,
		State:    types.NotDownloaded.String(),
		progress: progress.New(progress.WithGradient(string(colorPurple), string(colorPink))),
	}
}

// Done reports whether the asset reached a final state.
func (a *AssetModel) Done() bool {
	return a.State == types.Downloaded.String() || a.Err != ""
}

// RootModel lists the assets of a service and keeps them fresh by polling.
// With watched names it quits once all of them are done (foreground get);
// without, it runs until the user quits.
type RootModel struct {
	service core.Service
	version string
	watched map[string]bool

	assets []*AssetModel
	cursor int
	width  int
	height int

	pollErr  error
	quitting bool
}

// InitialRootModel builds the model. watch names the assets whose completion
// ends the program.
func InitialRootModel(service core.Service, version string, watch ...string) RootModel {
	m := RootModel{
		service: service,
		version: version,
		watched: make(map[string]bool, len(watch)),
	}
	for _, name := range watch {
		m.watched[name] = true
		m.assets = append(m.assets, newAssetModel(name))
	}
	return m
}

// statusMsg carries one poll of the service
type statusMsg struct {
	statuses []types.AssetStatus
	err      error
}

// actionErrMsg reports a failed cancel/delete
type actionErrMsg struct{ err error }

func (m RootModel) Init() tea.Cmd {
	return pollNow(m.service)
}

func pollNow(svc core.Service) tea.Cmd {
	return func() tea.Msg {
		statuses, err := svc.List()
		return statusMsg{statuses: statuses, err: err}
	}
}

func pollLater(svc core.Service) tea.Cmd {
	return tea.Tick(TickInterval, func(time.Time) tea.Msg {
		statuses, err := svc.List()
		return statusMsg{statuses: statuses, err: err}
	})
}

// Assets returns the rows currently shown.
func (m RootModel) Assets() []*AssetModel {
	return m.assets
}

// Failed returns the watched assets that ended with an error.
func (m RootModel) Failed() []*AssetModel {
	var out []*AssetModel
	for _, a := range m.assets {
		if m.watched[a.Name] && a.Err != "" {
			out = append(out, a)
		}
	}
	return out
}

func (m RootModel) find(name string) *AssetModel {
	for _, a := range m.assets {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (m RootModel) allWatchedDone() bool {
	if len(m.watched) == 0 {
		return false
	}
	for name := range m.watched {
		a := m.find(name)
		if a == nil || !a.Done() {
			return false
		}
	}
	return true
}
