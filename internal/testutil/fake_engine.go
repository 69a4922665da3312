package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surge-downloader/hlsget/internal/engine/events"
	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// CreatedTask records one CreateTask call
type CreatedTask struct {
	ID    types.TaskID
	URL   string
	Title string
}

// FakeEngine is an in-memory download engine. Tests drive it by emitting
// events; it never touches the network.
type FakeEngine struct {
	mu        sync.Mutex
	events    chan any
	nextID    int
	created   []CreatedTask
	started   []types.TaskID
	cancelled []types.TaskID

	// Resumable is returned by ResumeAll.
	Resumable []types.TaskInfo

	CreateErr error
	StartErr  error
	ResumeErr error

	// CancelEmits makes Cancel emit a cancelled terminal event for the task.
	CancelEmits bool

	// BeforeCreate runs at the start of CreateTask, outside the engine lock.
	BeforeCreate func()
}

// NewFakeEngine returns an engine with a buffered event channel.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{events: make(chan any, types.EventChannelBuffer)}
}

func (f *FakeEngine) CreateTask(url, title string) (types.TaskID, error) {
	if f.BeforeCreate != nil {
		f.BeforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := types.TaskID(fmt.Sprintf("task-%d", f.nextID))
	f.created = append(f.created, CreatedTask{ID: id, URL: url, Title: title})
	return id, nil
}

func (f *FakeEngine) ResumeAll(ctx context.Context) ([]types.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResumeErr != nil {
		return nil, f.ResumeErr
	}
	return append([]types.TaskInfo(nil), f.Resumable...), nil
}

func (f *FakeEngine) Start(id types.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *FakeEngine) Cancel(id types.TaskID) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	emit := f.CancelEmits
	f.mu.Unlock()

	if emit {
		f.Emit(events.TerminalMsg{TaskID: id, Outcome: types.OutcomeCancelled})
	}
	return nil
}

func (f *FakeEngine) Events() <-chan any {
	return f.events
}

// Emit queues an event for delivery.
func (f *FakeEngine) Emit(msg any) {
	f.events <- msg
}

// Created returns the CreateTask calls so far.
func (f *FakeEngine) Created() []CreatedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreatedTask(nil), f.created...)
}

// Started returns the started task ids in order.
func (f *FakeEngine) Started() []types.TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskID(nil), f.started...)
}

// Cancelled returns the cancelled task ids in order.
func (f *FakeEngine) Cancelled() []types.TaskID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskID(nil), f.cancelled...)
}

// ProgressEvent builds a progress event where loaded of total seconds are present.
func ProgressEvent(id types.TaskID, loaded, total float64) events.ProgressMsg {
	return events.ProgressMsg{
		TaskID:        id,
		LoadedRanges:  []types.TimeRange{{Duration: seconds(loaded)}},
		ExpectedRange: types.TimeRange{Duration: seconds(total)},
	}
}

// SuccessEvents returns the segment-complete and terminal events of a finished task.
func SuccessEvents(id types.TaskID, relPath string) []any {
	return []any{
		events.SegmentCompleteMsg{TaskID: id, RelativePath: relPath},
		events.TerminalMsg{TaskID: id, Outcome: types.OutcomeSuccess},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
