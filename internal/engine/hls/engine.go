package hls

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/surge-downloader/hlsget/internal/engine/events"
	"github.com/surge-downloader/hlsget/internal/engine/state"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// ErrUnknownTask is returned for task ids the engine does not know.
var ErrUnknownTask = errors.New("unknown task")

// ErrStorageUnavailable is returned when the storage root cannot be written.
var ErrStorageUnavailable = errors.New("storage root unavailable")

// Options configures an Engine
type Options struct {
	Root    string // storage root; artifacts go to <Root>/media, segments to <Root>/work
	Store   *state.Store
	Runtime *types.RuntimeConfig
	Headers map[string]string // extra request headers (cookies, auth)
}

type task struct {
	id              types.TaskID
	name            string
	url             string
	cancelRequested atomic.Bool
}

// Engine downloads HLS streams. Tasks are persisted in the store so a new
// process can pick them up with ResumeAll.
type Engine struct {
	root    string
	store   *state.Store
	runtime *types.RuntimeConfig
	client  *http.Client
	events  chan any
	pool    *workerPool

	mu    sync.Mutex
	tasks map[types.TaskID]*task
}

// New creates an engine and starts its workers.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("hls engine requires a task store")
	}
	client, err := newClient(opts.Runtime, opts.Headers)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		root:    opts.Root,
		store:   opts.Store,
		runtime: opts.Runtime,
		client:  client,
		events:  make(chan any, types.EventChannelBuffer),
		tasks:   make(map[types.TaskID]*task),
	}
	e.pool = newWorkerPool(opts.Runtime.GetMaxConcurrentDownloads(), e.run)
	return e, nil
}

// Events returns the channel all task events are delivered on.
func (e *Engine) Events() <-chan any {
	return e.events
}

// CreateTask registers a download of rawurl described by title.
func (e *Engine) CreateTask(rawurl, title string) (types.TaskID, error) {
	if _, err := utils.ValidateStreamURL(rawurl); err != nil {
		return "", err
	}

	id := types.TaskID(uuid.New().String())
	if err := e.store.Insert(context.Background(), state.Task{
		ID:     id,
		Name:   title,
		URL:    rawurl,
		Status: types.TaskCreated,
	}); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.tasks[id] = &task{id: id, name: title, url: rawurl}
	e.mu.Unlock()

	utils.Debug("HLS engine: created task %s for %s", id.Short(), title)
	return id, nil
}

// ResumeAll returns the unfinished tasks of previous runs. They are not
// started; the caller starts each one once it is ready for its events.
func (e *Engine) ResumeAll(ctx context.Context) ([]types.TaskInfo, error) {
	persisted, err := e.store.ListUnfinished(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]types.TaskInfo, 0, len(persisted))
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range persisted {
		if _, ok := e.tasks[p.ID]; !ok {
			e.tasks[p.ID] = &task{id: p.ID, name: p.Name, url: p.URL}
		}
		if p.Status != types.TaskCreated {
			if err := e.store.SetStatus(ctx, p.ID, types.TaskCreated); err != nil {
				utils.Debug("HLS engine: failed to reset task %s: %v", p.ID.Short(), err)
			}
		}
		infos = append(infos, types.TaskInfo{ID: p.ID, Name: p.Name, URL: p.URL})
	}
	return infos, nil
}

// Start queues the task for download.
func (e *Engine) Start(id types.TaskID) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	if err := e.store.SetStatus(context.Background(), id, types.TaskQueued); err != nil {
		return err
	}
	if !e.pool.Add(t) {
		return errShutdown
	}
	return nil
}

// Cancel stops a task. A cancelled terminal event follows unless the task
// already ended.
func (e *Engine) Cancel(id types.TaskID) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	t.cancelRequested.Store(true)
	if e.pool.Cancel(id) {
		return nil
	}

	// Not running. Queued tasks notice the flag when a worker picks them up;
	// created-only tasks end here.
	rec, err := e.store.Get(context.Background(), id)
	if err == nil && rec.Status == types.TaskCreated {
		e.finish(t, types.TaskCancelled)
		e.emit(events.TerminalMsg{TaskID: id, Outcome: types.OutcomeCancelled})
	}
	return nil
}

// Close stops the workers. Interrupted tasks stay resumable.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

func (e *Engine) emit(msg any) {
	e.events <- msg
}

func (e *Engine) finish(t *task, status types.TaskStatus) {
	if err := e.store.SetStatus(context.Background(), t.id, status); err != nil {
		utils.Debug("HLS engine: failed to record %s for %s: %v", status, t.id.Short(), err)
	}
	e.mu.Lock()
	delete(e.tasks, t.id)
	e.mu.Unlock()
}

// workDirRel keys the segment directory by name and URL. The hash keeps
// names that sanitize to the same file name apart; a rerun of the same
// asset lands in the same directory and resumes.
func workDirRel(name, rawurl string) string {
	h := sha256.Sum256([]byte(name + "|" + rawurl))
	return filepath.Join(types.WorkDirName, utils.SafeFilename(name)+"_"+hex.EncodeToString(h[:4]))
}

// run executes one task on a pool worker and reports its outcome.
func (e *Engine) run(ctx context.Context, t *task) {
	log := utils.Log().With().Str("task_id", string(t.id)).Str("asset", t.name).Logger()

	if t.cancelRequested.Load() {
		e.finish(t, types.TaskCancelled)
		e.emit(events.TerminalMsg{TaskID: t.id, Outcome: types.OutcomeCancelled})
		return
	}
	if err := e.store.SetStatus(ctx, t.id, types.TaskRunning); err != nil {
		log.Debug().Err(err).Msg("failed to mark task running")
	}

	start := time.Now()
	rel, err := e.download(ctx, t)

	switch {
	case err == nil:
		log.Info().Str("path", rel).Dur("elapsed", time.Since(start)).Msg("task completed")
		e.finish(t, types.TaskCompleted)
		e.emit(events.SegmentCompleteMsg{TaskID: t.id, RelativePath: rel})
		e.emit(events.TerminalMsg{TaskID: t.id, Outcome: types.OutcomeSuccess})

	case errors.Is(context.Cause(ctx), errShutdown):
		// Leave it unfinished so the next process resumes it
		log.Debug().Msg("task interrupted by shutdown")
		_ = e.store.SetStatus(context.Background(), t.id, types.TaskQueued)

	case errors.Is(context.Cause(ctx), errCancelRequested) || t.cancelRequested.Load():
		log.Info().Msg("task cancelled")
		e.finish(t, types.TaskCancelled)
		e.emit(events.SegmentCompleteMsg{TaskID: t.id, RelativePath: workDirRel(t.name, t.url)})
		e.emit(events.TerminalMsg{TaskID: t.id, Outcome: types.OutcomeCancelled})

	case errors.Is(err, ErrEncrypted) || errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrUnsupportedPlaylist):
		log.Warn().Err(err).Msg("task not supported")
		e.finish(t, types.TaskFailed)
		e.emit(events.TerminalMsg{TaskID: t.id, Outcome: types.OutcomeUnsupportedEnvironment, Err: err})

	default:
		log.Error().Err(err).Msg("task failed")
		e.finish(t, types.TaskFailed)
		e.emit(events.TerminalMsg{TaskID: t.id, Outcome: types.OutcomeError, Err: err})
	}
}

// download fetches every segment and returns the artifact path relative to root.
func (e *Engine) download(ctx context.Context, t *task) (string, error) {
	if e.root == "" {
		return "", ErrStorageUnavailable
	}
	workRel := workDirRel(t.name, t.url)
	workDir := filepath.Join(e.root, workRel)
	mediaDir := filepath.Join(e.root, types.MediaDirName)
	for _, dir := range []string{workDir, mediaDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := e.store.SetRelativePath(ctx, t.id, workRel); err != nil {
		utils.Debug("HLS engine: failed to record work dir: %v", err)
	}

	playlist, err := e.resolveMedia(ctx, t.url)
	if err != nil {
		return "", err
	}

	var initPath string
	if playlist.Init != nil {
		if initPath, err = e.fetchInit(ctx, playlist.Init, workDir); err != nil {
			return "", err
		}
	}

	tracker := newCoverage(t.id, playlist, e.emit)
	for i := range playlist.Segments {
		if _, err := os.Stat(filepath.Join(workDir, segmentFile(i))); err == nil {
			tracker.add(i)
		}
	}
	tracker.report()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.runtime.GetMaxSegmentConnections())
	for i, seg := range playlist.Segments {
		if tracker.has(i) {
			continue
		}
		g.Go(func() error {
			if err := e.fetchSegment(gctx, seg, workDir, i); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			tracker.add(i)
			tracker.report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sniffed := initPath
	if sniffed == "" {
		sniffed = filepath.Join(workDir, segmentFile(0))
	}
	name := fmt.Sprintf("%s_%s%s", utils.SafeFilename(t.name), t.id.Short(), sniffExtension(sniffed))
	rel := filepath.Join(types.MediaDirName, name)
	if err := concatenate(workDir, initPath, len(playlist.Segments), filepath.Join(e.root, rel)); err != nil {
		return "", fmt.Errorf("failed to assemble %s: %w", rel, err)
	}
	if err := os.RemoveAll(workDir); err != nil {
		utils.Debug("HLS engine: failed to remove %s: %v", workDir, err)
	}
	if err := e.store.SetRelativePath(context.Background(), t.id, rel); err != nil {
		utils.Debug("HLS engine: failed to record artifact path: %v", err)
	}
	return rel, nil
}

// coverage tracks finished segments and reports them as loaded time ranges.
type coverage struct {
	id       types.TaskID
	segments []Segment
	total    time.Duration
	emit     func(any)

	mu   sync.Mutex
	done map[int]bool
}

func newCoverage(id types.TaskID, p *Playlist, emit func(any)) *coverage {
	return &coverage{id: id, segments: p.Segments, total: p.TotalDuration(), emit: emit, done: make(map[int]bool)}
}

func (c *coverage) add(i int) {
	c.mu.Lock()
	c.done[i] = true
	c.mu.Unlock()
}

func (c *coverage) has(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[i]
}

// report emits the merged loaded ranges. Holding mu while emitting keeps
// progress events in increasing order.
func (c *coverage) report() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.done) == 0 {
		return
	}

	idx := make([]int, 0, len(c.done))
	for i := range c.done {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var ranges []types.TimeRange
	for _, i := range idx {
		seg := c.segments[i]
		if n := len(ranges); n > 0 && ranges[n-1].End() == seg.Start {
			ranges[n-1].Duration += seg.Duration
			continue
		}
		ranges = append(ranges, types.TimeRange{Start: seg.Start, Duration: seg.Duration})
	}

	c.emit(events.ProgressMsg{
		TaskID:        c.id,
		LoadedRanges:  ranges,
		ExpectedRange: types.TimeRange{Duration: c.total},
	})
}
