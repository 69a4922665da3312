package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.True(t, s.General.AutoRestore)
	assert.Equal(t, 5, s.General.LogRetentionCount)
	assert.Equal(t, 3, s.Connections.MaxConcurrentDownloads)
	assert.Equal(t, 4, s.Connections.MaxSegmentConnections)
	assert.Equal(t, int64(types.DefaultMinBitrate), s.Connections.MinBitrate)
	assert.Empty(t, s.Connections.UserAgent)
	assert.Equal(t, types.RetryBaseDelay, s.Performance.RetryBaseDelay)
}

func TestLoadSettings_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := loadSettingsFrom(path)
	require.NoError(t, err)

	def := DefaultSettings()
	assert.Equal(t, def.Connections, s.Connections)
	assert.Equal(t, def.Performance, s.Performance)
	assert.Equal(t, def.General.AutoRestore, s.General.AutoRestore)
}

func TestSaveAndLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	s := DefaultSettings()
	s.General.StorageDir = "/srv/media"
	s.Connections.MaxConcurrentDownloads = 7
	s.Connections.ProxyURL = "socks5://127.0.0.1:1080"
	s.Performance.RequestTimeout = 5 * time.Second

	require.NoError(t, saveSettingsTo(path, s))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	loaded, err := loadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/media", loaded.General.StorageDir)
	assert.Equal(t, 7, loaded.Connections.MaxConcurrentDownloads)
	assert.Equal(t, "socks5://127.0.0.1:1080", loaded.Connections.ProxyURL)
	assert.Equal(t, 5*time.Second, loaded.Performance.RequestTimeout)
}

func TestLoadSettings_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"connections": {"max_segment_connections": 9}}`), 0644))

	s, err := loadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9, s.Connections.MaxSegmentConnections)
	assert.Equal(t, 3, s.Connections.MaxConcurrentDownloads)
	assert.Equal(t, types.MaxTaskRetries, s.Performance.MaxTaskRetries)
}

func TestLoadSettings_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	t.Setenv("HLSGET_CONNECTIONS_USER_AGENT", "test-agent/2.0")
	t.Setenv("HLSGET_PERFORMANCE_RETRY_BASE_DELAY", "1s")

	s, err := loadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "test-agent/2.0", s.Connections.UserAgent)
	assert.Equal(t, time.Second, s.Performance.RetryBaseDelay)
}

func TestLoadSettings_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := loadSettingsFrom(path)
	assert.Error(t, err)
}

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Connections.UserAgent = "ua"
	s.Connections.MinBitrate = 800_000

	rc := s.ToRuntimeConfig()
	assert.Equal(t, "ua", rc.GetUserAgent())
	assert.Equal(t, int64(800_000), rc.GetMinBitrate())
	assert.Equal(t, 3, rc.GetMaxConcurrentDownloads())
	assert.Equal(t, types.RequestTimeout, rc.GetRequestTimeout())
}

func TestGetRegistryPath(t *testing.T) {
	assert.Equal(t, "", GetRegistryPath(""))
	assert.Equal(t, filepath.Join("/data", "registry.json"), GetRegistryPath("/data"))
}
