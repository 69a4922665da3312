package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/surge-downloader/hlsget/internal/engine/events"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// activeTask is one row of the active-task table
type activeTask struct {
	asset       *Asset
	pendingPath string // reported by segment-complete, relative to root
	terminated  bool
}

// Coordinator owns the engine handle and the table of running tasks. It
// turns engine events into registry updates and asset callbacks.
// Create one per process with New and run its event loop with Run.
type Coordinator struct {
	engine   Engine
	registry *Registry
	root     string

	mu       sync.Mutex
	active   map[types.TaskID]*activeTask
	starting map[string]*Asset // names whose CreateTask call is in flight
}

// New builds a coordinator over engine. Artifacts live under root; an empty
// root means the storage location could not be resolved and nothing is ever
// reported as downloaded.
func New(engine Engine, registry *Registry, root string) *Coordinator {
	return &Coordinator{
		engine:   engine,
		registry: registry,
		root:     root,
		active:   make(map[types.TaskID]*activeTask),
		starting: make(map[string]*Asset),
	}
}

// NewAsset returns a descriptor bound to this coordinator.
func (c *Coordinator) NewAsset(url, name string) *Asset {
	return &Asset{name: name, url: url, coord: c}
}

// Root returns the storage root.
func (c *Coordinator) Root() string { return c.root }

// Registry returns the path registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// State derives the state of name. Downloaded wins over Downloading.
func (c *Coordinator) State(name string) types.AssetState {
	if c.isDownloaded(name) {
		return types.Downloaded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy(name) {
		return types.Downloading
	}
	return types.NotDownloaded
}

// LocalPath returns root joined with the registered path, only when downloaded.
func (c *Coordinator) LocalPath(name string) (string, bool) {
	if !c.isDownloaded(name) {
		return "", false
	}
	rel, _ := c.registry.Get(name)
	return filepath.Join(c.root, rel), true
}

func (c *Coordinator) isDownloaded(name string) bool {
	if c.root == "" {
		return false
	}
	rel, ok := c.registry.Get(name)
	if !ok {
		return false
	}
	_, err := os.Stat(filepath.Join(c.root, rel))
	return err == nil
}

// StartDownload creates and starts an engine task for a. It is a no-op when
// the asset is already downloaded or a task for its name is running.
func (c *Coordinator) StartDownload(a *Asset) error {
	if c.isDownloaded(a.name) {
		utils.Debug("StartDownload: %s already downloaded", a.name)
		return nil
	}

	c.mu.Lock()
	if c.busy(a.name) {
		c.mu.Unlock()
		utils.Debug("StartDownload: %s already running", a.name)
		return nil
	}
	c.starting[a.name] = a
	c.mu.Unlock()

	id, err := c.engine.CreateTask(a.url, a.name)

	c.mu.Lock()
	delete(c.starting, a.name)
	if err == nil {
		c.active[id] = &activeTask{asset: a}
	}
	c.mu.Unlock()

	if err != nil {
		terr := &TaskError{Asset: a.name, Outcome: types.OutcomeError, Kind: ErrEngineUnavailable, Err: err}
		utils.Log().Error().Err(err).Str("asset", a.name).Msg("failed to create task")
		a.fail(terr)
		return terr
	}

	utils.Log().Debug().Str("asset", a.name).Str("task_id", string(id)).Msg("task created")

	if err := c.engine.Start(id); err != nil {
		c.mu.Lock()
		t, ok := c.active[id]
		if ok && !t.terminated {
			delete(c.active, id)
		}
		c.mu.Unlock()
		if !ok || t.terminated {
			return nil
		}
		terr := &TaskError{TaskID: id, Asset: a.name, Outcome: types.OutcomeError, Kind: ErrEngineUnavailable, Err: err}
		utils.Log().Error().Err(err).Str("task_id", string(id)).Msg("failed to start task")
		a.fail(terr)
		return terr
	}
	return nil
}

// Cancel asks the engine to stop the task running a. The asset stays
// Downloading until the engine's terminal event has been processed.
func (c *Coordinator) Cancel(a *Asset) error {
	c.mu.Lock()
	var id types.TaskID
	found := false
	for tid, t := range c.active {
		if t.asset.Equal(a) && !t.terminated {
			id, found = tid, true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		return ErrNotActive
	}
	utils.Debug("Cancel: asking engine to stop %s (%s)", id.Short(), a.name)
	return c.engine.Cancel(id)
}

// RestoreActiveTasks adopts the tasks the engine kept from a previous run,
// rebuilding a descriptor from each task's stored name and URL, then starts
// them. No callbacks are attached; use ActiveAsset to register them.
func (c *Coordinator) RestoreActiveTasks(ctx context.Context) ([]*Asset, error) {
	infos, err := c.engine.ResumeAll(ctx)
	if err != nil {
		return nil, err
	}

	var restored []*Asset
	var ids []types.TaskID
	c.mu.Lock()
	for _, info := range infos {
		if _, ok := c.active[info.ID]; ok {
			continue
		}
		if c.busy(info.Name) {
			utils.Log().Warn().Str("asset", info.Name).Str("task_id", string(info.ID)).
				Msg("skipping duplicate task for asset")
			continue
		}
		a := c.NewAsset(info.URL, info.Name)
		c.active[info.ID] = &activeTask{asset: a}
		restored = append(restored, a)
		ids = append(ids, info.ID)
	}
	c.mu.Unlock()

	for i, id := range ids {
		if err := c.engine.Start(id); err != nil {
			utils.Log().Error().Err(err).Str("task_id", string(id)).Msg("failed to start restored task")
			c.mu.Lock()
			delete(c.active, id)
			c.mu.Unlock()
			restored[i].fail(&TaskError{TaskID: id, Asset: restored[i].name, Outcome: types.OutcomeError, Kind: ErrEngineUnavailable, Err: err})
		}
	}

	utils.Debug("Restored %d task(s)", len(restored))
	return restored, nil
}

// DeleteAsset removes the artifact registered for name and its registry
// entry. A running download of the same name is not touched.
func (c *Coordinator) DeleteAsset(name string) bool {
	rel, ok := c.registry.Get(name)
	if !ok {
		return false
	}
	if c.root != "" && rel != "" {
		if err := os.RemoveAll(filepath.Join(c.root, rel)); err != nil {
			utils.Log().Error().Err(err).Str("asset", name).Msg("failed to delete artifact")
		}
	}
	c.registry.Remove(name)
	return true
}

// ActiveAsset returns the descriptor of the running task for name, if any.
func (c *Coordinator) ActiveAsset(name string) *Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, t := c.findByName(name); t != nil {
		return t.asset
	}
	return nil
}

// TaskID returns the engine id of the running task for name.
func (c *Coordinator) TaskID(name string) (types.TaskID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, t := c.findByName(name)
	return id, t != nil
}

// Active returns the descriptors of all running tasks, sorted by name.
func (c *Coordinator) Active() []*Asset {
	c.mu.Lock()
	out := make([]*Asset, 0, len(c.active))
	for _, t := range c.active {
		if !t.terminated {
			out = append(out, t.asset)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// findByName must be called with mu held. Rows whose terminal event is
// still being handled are included.
func (c *Coordinator) findByName(name string) (types.TaskID, *activeTask) {
	for id, t := range c.active {
		if t.asset.name == name {
			return id, t
		}
	}
	return "", nil
}

// busy reports whether name has a task being created, running or finishing.
// Must be called with mu held.
func (c *Coordinator) busy(name string) bool {
	if _, ok := c.starting[name]; ok {
		return true
	}
	_, t := c.findByName(name)
	return t != nil
}

// Run delivers engine events until ctx is done or the event channel closes.
// All events are handled on this one goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	ch := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.dispatch(msg)
		}
	}
}

func (c *Coordinator) dispatch(msg any) {
	switch m := msg.(type) {
	case events.ProgressMsg:
		c.handleProgress(m)
	case events.SegmentCompleteMsg:
		c.handleSegmentComplete(m)
	case events.TerminalMsg:
		c.handleTerminal(m)
	default:
		utils.Debug("Coordinator: ignoring event %T", msg)
	}
}

func (c *Coordinator) handleProgress(m events.ProgressMsg) {
	c.mu.Lock()
	t, ok := c.active[m.TaskID]
	c.mu.Unlock()
	if !ok || t.terminated {
		return
	}
	t.asset.progress(m.Coverage())
}

func (c *Coordinator) handleSegmentComplete(m events.SegmentCompleteMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.active[m.TaskID]; ok && !t.terminated {
		t.pendingPath = m.RelativePath
	}
}

func (c *Coordinator) handleTerminal(m events.TerminalMsg) {
	c.mu.Lock()
	t, ok := c.active[m.TaskID]
	if !ok || t.terminated {
		c.mu.Unlock()
		utils.Debug("Coordinator: dropping terminal event for unknown task %s", m.TaskID.Short())
		return
	}
	t.terminated = true
	pending := t.pendingPath
	c.mu.Unlock()

	a := t.asset
	log := utils.Log().With().Str("asset", a.name).Str("task_id", string(m.TaskID)).Logger()

	var outcomeErr error
	var finishedPath string

	switch m.Outcome {
	case types.OutcomeSuccess:
		path := pending
		if path == "" {
			outcomeErr = &TaskError{TaskID: m.TaskID, Asset: a.name, Outcome: m.Outcome, Kind: ErrInconsistentState}
			log.Error().Msg("task succeeded without an artifact path")
			break
		}
		if !c.registry.Set(a.name, path) {
			log.Warn().Str("path", path).Msg("artifact path not persisted")
		}
		finishedPath = path
		log.Info().Str("path", path).Msg("download finished")

	case types.OutcomeCancelled:
		c.removePartial(a.name, pending)
		outcomeErr = &TaskError{TaskID: m.TaskID, Asset: a.name, Outcome: m.Outcome, Kind: ErrCancelled, Err: m.Err}
		log.Info().Msg("download cancelled")

	default:
		outcomeErr = &TaskError{TaskID: m.TaskID, Asset: a.name, Outcome: m.Outcome, Kind: kindFor(m.Outcome), Err: m.Err}
		log.Error().Err(m.Err).Str("outcome", m.Outcome.String()).Msg("download failed")
	}

	c.mu.Lock()
	delete(c.active, m.TaskID)
	c.mu.Unlock()

	if outcomeErr != nil {
		a.fail(outcomeErr)
		return
	}
	a.succeed(finishedPath)
}

// removePartial deletes whatever a cancelled task left behind and forgets
// any stale registry entry for the asset.
func (c *Coordinator) removePartial(name, pending string) {
	target := pending
	if target == "" {
		target, _ = c.registry.Get(name)
	}
	if target != "" && c.root != "" {
		if err := os.RemoveAll(filepath.Join(c.root, target)); err != nil && !errors.Is(err, os.ErrNotExist) {
			utils.Log().Error().Err(err).Str("asset", name).Msg("failed to remove partial download")
		}
	}
	c.registry.Remove(name)
}
