package download

import (
	"errors"
	"fmt"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

var (
	// ErrCancelled marks a download stopped by a cancel request.
	ErrCancelled = errors.New("download cancelled")

	// ErrUnsupportedEnvironment is reported when the engine cannot perform
	// segmented downloads here (unusable storage root, encrypted stream).
	ErrUnsupportedEnvironment = errors.New("downloads are not supported in this environment")

	// ErrInconsistentState is reported when a task succeeded but no artifact path is known.
	ErrInconsistentState = errors.New("inconsistent download state")

	// ErrEngineUnavailable wraps failures to create or start an engine task.
	ErrEngineUnavailable = errors.New("download engine unavailable")

	// ErrNotActive is returned when cancelling an asset with no running task.
	ErrNotActive = errors.New("asset has no active download")
)

// TaskError is delivered to error callbacks when a task ends without success.
type TaskError struct {
	TaskID  types.TaskID
	Asset   string
	Outcome types.Outcome
	Kind    error // one of the sentinels above, nil for unclassified engine errors
	Err     error // cause reported by the engine, may be nil
}

func (e *TaskError) Error() string {
	msg := fmt.Sprintf("asset %q", e.Asset)
	if e.TaskID != "" {
		msg += fmt.Sprintf(" (task %s)", e.TaskID.Short())
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg + ": download failed"
	}
}

// Unwrap exposes both the sentinel and the engine cause to errors.Is/As.
func (e *TaskError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func kindFor(o types.Outcome) error {
	switch o {
	case types.OutcomeCancelled:
		return ErrCancelled
	case types.OutcomeUnsupportedEnvironment:
		return ErrUnsupportedEnvironment
	default:
		return nil
	}
}
