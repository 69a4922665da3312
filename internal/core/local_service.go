package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// LocalService implements Service on top of an in-process coordinator and
// runs the coordinator's event loop until Shutdown.
type LocalService struct {
	coord       *download.Coordinator
	closeEngine func()

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	assets map[string]*download.Asset // descriptors handed out by Add or Restore
}

// NewLocalService starts delivering coord's engine events. closeEngine, if
// set, is called first on Shutdown so interrupted tasks stay resumable.
func NewLocalService(coord *download.Coordinator, closeEngine func()) *LocalService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalService{
		coord:       coord,
		closeEngine: closeEngine,
		cancel:      cancel,
		done:        make(chan struct{}),
		assets:      make(map[string]*download.Asset),
	}
	go func() {
		defer close(s.done)
		coord.Run(ctx)
	}()
	return s
}

// Coordinator returns the wrapped coordinator.
func (s *LocalService) Coordinator() *download.Coordinator { return s.coord }

// Asset returns the descriptor the service holds for name, if any.
func (s *LocalService) Asset(name string) *download.Asset {
	if a := s.coord.ActiveAsset(name); a != nil {
		return a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets[name]
}

// Restore adopts the engine's unfinished tasks and returns how many were
// restarted.
func (s *LocalService) Restore(ctx context.Context) (int, error) {
	restored, err := s.coord.RestoreActiveTasks(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for _, a := range restored {
		s.assets[a.Name()] = a
	}
	s.mu.Unlock()
	return len(restored), nil
}

func (s *LocalService) Add(url, name string) (*types.AssetStatus, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if _, err := utils.ValidateStreamURL(url); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	a := s.coord.ActiveAsset(name)
	if a == nil {
		s.mu.Lock()
		a = s.assets[name]
		if a == nil || a.URL() != url {
			a = s.coord.NewAsset(url, name)
			s.assets[name] = a
		}
		s.mu.Unlock()
	}

	if err := s.coord.StartDownload(a); err != nil {
		return nil, err
	}
	return s.Status(name)
}

func (s *LocalService) Cancel(name string) error {
	a := s.coord.ActiveAsset(name)
	if a == nil {
		return download.ErrNotActive
	}
	return a.Cancel()
}

func (s *LocalService) Delete(name string) error {
	if !s.coord.DeleteAsset(name) {
		return ErrUnknownAsset
	}
	if s.coord.ActiveAsset(name) == nil {
		s.mu.Lock()
		delete(s.assets, name)
		s.mu.Unlock()
	}
	return nil
}

func (s *LocalService) Status(name string) (*types.AssetStatus, error) {
	a := s.Asset(name)
	state := s.coord.State(name)
	_, registered := s.coord.Registry().Get(name)
	if a == nil && state == types.NotDownloaded && !registered {
		return nil, ErrUnknownAsset
	}

	st := &types.AssetStatus{Name: name, State: state.String()}
	if a != nil {
		st.URL = a.URL()
		st.Progress = a.Progress()
		if _, done, err := a.Result(); done && err != nil {
			st.Error = err.Error()
		}
	}
	if id, ok := s.coord.TaskID(name); ok {
		st.TaskID = string(id)
	}
	if p, ok := s.coord.LocalPath(name); ok {
		st.LocalPath = p
		st.Progress = 1
	}
	return st, nil
}

func (s *LocalService) List() ([]types.AssetStatus, error) {
	names := make(map[string]struct{})
	for name := range s.coord.Registry().All() {
		names[name] = struct{}{}
	}
	for _, a := range s.coord.Active() {
		names[a.Name()] = struct{}{}
	}
	s.mu.Lock()
	for name := range s.assets {
		names[name] = struct{}{}
	}
	s.mu.Unlock()

	out := make([]types.AssetStatus, 0, len(names))
	for name := range names {
		st, err := s.Status(name)
		if err != nil {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Shutdown stops the engine and then the event loop. Safe to call twice.
func (s *LocalService) Shutdown() error {
	s.once.Do(func() {
		if s.closeEngine != nil {
			s.closeEngine()
		}
		s.cancel()
		<-s.done
	})
	return nil
}
