package download

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/surge-downloader/hlsget/internal/utils"
)

const registryVersion = 1

type registryFile struct {
	Version int               `json:"version"`
	Assets  map[string]string `json:"assets"`
}

// Registry maps asset names to artifact paths relative to the storage root.
// The whole file is read once on first use and rewritten on every change.
// An empty path disables persistence: lookups see only in-memory changes
// and writes report false.
type Registry struct {
	path string
	lock *flock.Flock // serializes writers across processes

	mu      sync.Mutex
	loaded  bool
	entries map[string]string
}

// NewRegistry returns a registry backed by path. Nothing is read until first use.
func NewRegistry(path string) *Registry {
	r := &Registry{path: path}
	if path != "" {
		r.lock = flock.New(path + ".lock")
	}
	return r
}

// Path returns the backing file, "" when persistence is disabled.
func (r *Registry) Path() string {
	return r.path
}

// Get returns the relative path stored for name.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	p, ok := r.entries[name]
	return p, ok
}

// Set stores path for name and persists the registry. The in-memory entry
// is kept even when the write fails.
func (r *Registry) Set(name, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	r.entries[name] = path
	return r.persist()
}

// Remove deletes name. Returns false if it was absent or the write failed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return r.persist()
}

// All returns a copy of every entry.
func (r *Registry) All() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	return maps.Clone(r.entries)
}

func (r *Registry) ensureLoaded() {
	if r.loaded {
		return
	}
	r.loaded = true
	r.entries = make(map[string]string)
	if r.path == "" {
		return
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			utils.Debug("Registry: read %s failed: %v", r.path, err)
		}
		return
	}

	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		utils.Log().Warn().Err(err).Str("path", r.path).Msg("registry unreadable, starting empty")
		return
	}
	if f.Version > registryVersion {
		utils.Log().Warn().Int("version", f.Version).Msg("registry written by a newer version")
	}
	for k, v := range f.Assets {
		r.entries[k] = v
	}
}

// persist must be called with mu held.
func (r *Registry) persist() bool {
	if r.path == "" {
		return false
	}
	if err := r.write(); err != nil {
		utils.Log().Error().Err(err).Str("path", r.path).Msg("registry write failed")
		return false
	}
	return true
}

func (r *Registry) write() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() { _ = r.lock.Unlock() }()

	data, err := json.MarshalIndent(registryFile{Version: registryVersion, Assets: r.entries}, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, r.path)
}
