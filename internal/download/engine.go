package download

import (
	"context"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// Engine performs the segmented fetch behind each asset. The coordinator
// only sequences tasks; everything network-facing lives behind this boundary.
//
// Events() carries events.ProgressMsg, events.SegmentCompleteMsg and
// events.TerminalMsg. Per task they arrive as progress* then an optional
// segment-complete then exactly one terminal event.
type Engine interface {
	// CreateTask registers a task for url, described by title. It does not start it.
	CreateTask(url, title string) (types.TaskID, error)
	// ResumeAll lists the tasks persisted by a previous process.
	ResumeAll(ctx context.Context) ([]types.TaskInfo, error)
	Start(id types.TaskID) error
	Cancel(id types.TaskID) error
	Events() <-chan any
}
