package hls

import (
	"context"
	"errors"
	"sync"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

var (
	errCancelRequested = errors.New("cancel requested")
	errShutdown        = errors.New("engine shutting down")
)

// workerPool runs at most n tasks at a time, the rest wait in taskChan.
type workerPool struct {
	taskChan chan *task
	run      func(ctx context.Context, t *task)
	running  map[types.TaskID]context.CancelCauseFunc
	mu       sync.Mutex
	wg       sync.WaitGroup // tracks running tasks so Shutdown can wait for them

	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

func newWorkerPool(n int, run func(ctx context.Context, t *task)) *workerPool {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &workerPool{
		taskChan: make(chan *task, types.TaskQueueBuffer),
		run:      run,
		running:  make(map[types.TaskID]context.CancelCauseFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Add queues t. Returns false once the pool is shut down.
func (p *workerPool) Add(t *task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.taskChan <- t:
		return true
	}
}

// Cancel stops a running task. Returns false if it is not running.
func (p *workerPool) Cancel(id types.TaskID) bool {
	p.mu.Lock()
	cancel, ok := p.running[id]
	p.mu.Unlock()
	if ok {
		cancel(errCancelRequested)
	}
	return ok
}

func (p *workerPool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.taskChan:
			p.execute(t)
		}
	}
}

func (p *workerPool) execute(t *task) {
	ctx, cancel := context.WithCancelCause(p.ctx)
	defer cancel(nil)

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.running[t.id] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, t.id)
		p.mu.Unlock()
		p.wg.Done()
	}()

	p.run(ctx, t)
}

// Shutdown stops all workers and waits for running tasks to return. Tasks
// interrupted this way see errShutdown as their context cause.
func (p *workerPool) Shutdown() {
	p.once.Do(func() {
		p.mu.Lock()
		p.cancel(errShutdown)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
