package download

import (
	"fmt"
	"sync"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// ProgressFunc receives the fractional media coverage of a running download.
type ProgressFunc func(coverage float64)

// FinishFunc receives the artifact path relative to the storage root.
type FinishFunc func(relativePath string)

// ErrorFunc receives a *TaskError (or another error for failures before the task started).
type ErrorFunc func(err error)

// result is the buffered terminal outcome replayed to late registrations.
type result struct {
	path string
	err  error
}

// Asset is one logical download, identified by name and source URL.
// Its state is derived on demand from the registry, the filesystem and the
// coordinator's active tasks; only the last terminal result is buffered.
type Asset struct {
	name  string
	url   string
	coord *Coordinator

	mu         sync.Mutex
	result     *result
	coverage   float64
	onProgress ProgressFunc
	onFinish   FinishFunc
	onError    ErrorFunc
}

// Name returns the asset's identifier
func (a *Asset) Name() string { return a.name }

// URL returns the manifest URL
func (a *Asset) URL() string { return a.url }

// Key is a stable lookup key built from name and URL.
func (a *Asset) Key() string {
	return a.name + "\x00" + a.url
}

// Equal reports whether both assets have the same name and URL.
func (a *Asset) Equal(other *Asset) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.name == other.name && a.url == other.url
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s, %s", a.name, a.url)
}

// State derives the current lifecycle state.
func (a *Asset) State() types.AssetState {
	return a.coord.State(a.name)
}

// LocalPath returns the absolute artifact path when the asset is downloaded.
func (a *Asset) LocalPath() (string, bool) {
	return a.coord.LocalPath(a.name)
}

// Progress returns the last coverage reported for this asset.
func (a *Asset) Progress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coverage
}

// Result returns the buffered terminal result, if any.
func (a *Asset) Result() (relativePath string, done bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return "", false, nil
	}
	return a.result.path, true, a.result.err
}

// Download registers onProgress (when non-nil) and asks the coordinator to
// start the asset. Start failures reach the error callback.
func (a *Asset) Download(onProgress ProgressFunc) *Asset {
	if onProgress != nil {
		a.OnProgress(onProgress)
	}
	_ = a.coord.StartDownload(a)
	return a
}

// OnProgress sets the progress callback. Progress is never replayed.
func (a *Asset) OnProgress(fn ProgressFunc) *Asset {
	a.mu.Lock()
	a.onProgress = fn
	a.mu.Unlock()
	return a
}

// OnFinish sets the finish callback, invoking it immediately if the asset
// already holds a successful result.
func (a *Asset) OnFinish(fn FinishFunc) *Asset {
	a.mu.Lock()
	a.onFinish = fn
	res := a.result
	a.mu.Unlock()

	if fn != nil && res != nil && res.err == nil {
		fn(res.path)
	}
	return a
}

// OnError sets the error callback, invoking it immediately if the asset
// already holds a failed result.
func (a *Asset) OnError(fn ErrorFunc) *Asset {
	a.mu.Lock()
	a.onError = fn
	res := a.result
	a.mu.Unlock()

	if fn != nil && res != nil && res.err != nil {
		fn(res.err)
	}
	return a
}

// Cancel asks the coordinator to stop this asset's task. The state changes
// only once the engine reports the cancellation.
func (a *Asset) Cancel() error {
	return a.coord.Cancel(a)
}

// progress clears the buffered result and forwards coverage.
func (a *Asset) progress(coverage float64) {
	a.mu.Lock()
	a.result = nil
	a.coverage = coverage
	fn := a.onProgress
	a.mu.Unlock()

	if fn != nil {
		fn(coverage)
	}
}

func (a *Asset) succeed(relativePath string) {
	a.mu.Lock()
	a.result = &result{path: relativePath}
	a.coverage = 1
	fn := a.onFinish
	a.mu.Unlock()

	if fn != nil {
		fn(relativePath)
	}
}

func (a *Asset) fail(err error) {
	a.mu.Lock()
	a.result = &result{err: err}
	fn := a.onError
	a.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
