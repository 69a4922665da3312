package config

import (
	"os"
	"path/filepath"
)

const appName = "hlsget"

// userDir resolves an XDG base directory, falling back to fallback under $HOME.
// Returns "" when neither the variable nor the home directory is available.
func userDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

// GetAppDir returns the directory holding settings.json and the daemon port/lock files.
func GetAppDir() string {
	return userDir("XDG_CONFIG_HOME", ".config")
}

// GetStateDir returns the directory for engine state (task database).
func GetStateDir() string {
	return userDir("XDG_STATE_HOME", ".local", "state")
}

// GetLogsDir returns the directory for debug logs.
func GetLogsDir() string {
	state := GetStateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// GetDataDir returns the default storage root for downloaded media.
func GetDataDir() string {
	return userDir("XDG_DATA_HOME", ".local", "share")
}

// GetRegistryPath returns the path of the asset registry file inside root.
// An empty root yields "", which disables the registry.
func GetRegistryPath(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, "registry.json")
}

// GetDatabasePath returns the path of the engine task database.
func GetDatabasePath() string {
	state := GetStateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, appName+".db")
}

// EnsureDirs creates the app, state and logs directories.
func EnsureDirs() error {
	for _, dir := range []string{GetAppDir(), GetStateDir(), GetLogsDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
