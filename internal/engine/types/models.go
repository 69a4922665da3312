package types

import "time"

// TaskID is the opaque handle the engine assigns to a started or resumed task.
type TaskID string

// Short returns the first 8 characters of the id for display.
func (id TaskID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// AssetState is the derived lifecycle state of an asset.
type AssetState int

const (
	NotDownloaded AssetState = iota
	Downloading
	Downloaded
)

func (s AssetState) String() string {
	switch s {
	case Downloading:
		return "downloading"
	case Downloaded:
		return "downloaded"
	default:
		return "not_downloaded"
	}
}

// Outcome classifies a terminal engine event.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCancelled
	OutcomeUnsupportedEnvironment
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeUnsupportedEnvironment:
		return "unsupported_environment"
	default:
		return "error"
	}
}

// TimeRange is a span of media time.
type TimeRange struct {
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// End returns Start+Duration.
func (r TimeRange) End() time.Duration {
	return r.Start + r.Duration
}

// TaskInfo describes an engine task found at startup.
type TaskInfo struct {
	ID   TaskID `json:"id"`
	Name string `json:"name"` // task description, the asset name
	URL  string `json:"url"`
}

// TaskStatus is the persisted status of an engine task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further events will be emitted for the task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// AssetStatus is the caller-facing snapshot of one asset
type AssetStatus struct {
	Name      string  `json:"name"`
	URL       string  `json:"url,omitempty"`
	State     string  `json:"state"`
	LocalPath string  `json:"local_path,omitempty"`
	Progress  float64 `json:"progress"` // fractional coverage 0-1
	TaskID    string  `json:"task_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}
