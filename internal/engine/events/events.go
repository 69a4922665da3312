package events

import "github.com/surge-downloader/hlsget/internal/engine/types"

// ProgressMsg reports the media time loaded so far for a task
type ProgressMsg struct {
	TaskID        types.TaskID
	LoadedRanges  []types.TimeRange
	ExpectedRange types.TimeRange
}

// Coverage returns the loaded fraction: the sum over loaded ranges of
// duration / expected duration. Zero when the expected duration is unknown.
func (m ProgressMsg) Coverage() float64 {
	expected := m.ExpectedRange.Duration.Seconds()
	if expected <= 0 {
		return 0
	}
	var total float64
	for _, r := range m.LoadedRanges {
		total += r.Duration.Seconds() / expected
	}
	return total
}

// SegmentCompleteMsg reports where the engine put the task's artifact,
// relative to the storage root. Sent before the terminal event, also for
// cancelled tasks (pointing at the partial data).
type SegmentCompleteMsg struct {
	TaskID       types.TaskID
	RelativePath string
}

// TerminalMsg is the last event for a task
type TerminalMsg struct {
	TaskID  types.TaskID
	Outcome types.Outcome
	Err     error
}

// AssetProgressMsg is the asset-level progress notification fed to the TUI.
// It names the asset, not the task.
type AssetProgressMsg struct {
	Name     string
	Coverage float64
}

// AssetFinishedMsg signals a finished asset with its relative path
type AssetFinishedMsg struct {
	Name         string
	RelativePath string
}

// AssetFailedMsg signals a failed or cancelled asset
type AssetFailedMsg struct {
	Name string
	Err  error
}
