package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/surge-downloader/hlsget/internal/config"
)

var (
	instanceLock   *flock.Flock
	instanceLockMu sync.Mutex
)

func lockPath() string {
	return filepath.Join(config.GetAppDir(), "hlsget.lock")
}

// AcquireLock takes the single-instance lock. It returns false when another
// process already holds it.
func AcquireLock() (bool, error) {
	instanceLockMu.Lock()
	defer instanceLockMu.Unlock()

	if instanceLock != nil {
		return true, nil
	}
	dir := config.GetAppDir()
	if dir == "" {
		return false, fmt.Errorf("cannot resolve the config directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}

	l := flock.New(lockPath())
	locked, err := l.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", l.Path(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock releases the single-instance lock if held.
func ReleaseLock() error {
	instanceLockMu.Lock()
	defer instanceLockMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
