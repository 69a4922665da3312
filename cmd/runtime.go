package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/hls"
	"github.com/surge-downloader/hlsget/internal/engine/state"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// finishedTaskRetention is how long finished engine tasks stay in the database
const finishedTaskRetention = 30 * 24 * time.Hour

// newLocalService wires the sqlite task store, the HLS engine and the
// coordinator into a LocalService. Shutting the service down closes them.
func newLocalService(settings *config.Settings, dbPath string) (*core.LocalService, error) {
	root := utils.EnsureAbsPath(settings.General.StorageDir)
	if root == "" {
		utils.Log().Warn().Msg("storage directory could not be resolved, downloads will fail")
	}

	if dbPath == "" {
		utils.Log().Warn().Msg("state directory could not be resolved, tasks will not survive a restart")
		dbPath = ":memory:"
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, err
	}

	if n, err := store.PurgeFinished(context.Background(), time.Now().Add(-finishedTaskRetention)); err != nil {
		utils.Debug("Failed to purge finished tasks: %v", err)
	} else if n > 0 {
		utils.Debug("Purged %d finished task(s)", n)
	}

	engine, err := hls.New(hls.Options{
		Root:    root,
		Store:   store,
		Runtime: settings.ToRuntimeConfig(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	registry := download.NewRegistry(config.GetRegistryPath(root))
	coord := download.New(engine, registry, root)

	return core.NewLocalService(coord, func() {
		engine.Close()
		if err := store.Close(); err != nil {
			utils.Debug("Failed to close task database: %v", err)
		}
	}), nil
}
