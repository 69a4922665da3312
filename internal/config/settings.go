package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general" mapstructure:"general"`
	Connections ConnectionSettings  `json:"connections" mapstructure:"connections"`
	Performance PerformanceSettings `json:"performance" mapstructure:"performance"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	StorageDir        string `json:"storage_dir" mapstructure:"storage_dir"`
	AutoRestore       bool   `json:"auto_restore" mapstructure:"auto_restore"`
	LogRetentionCount int    `json:"log_retention_count" mapstructure:"log_retention_count"`
	LogLevel          string `json:"log_level" mapstructure:"log_level"`
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads" mapstructure:"max_concurrent_downloads"`
	MaxSegmentConnections  int    `json:"max_segment_connections" mapstructure:"max_segment_connections"`
	UserAgent              string `json:"user_agent" mapstructure:"user_agent"`
	ProxyURL               string `json:"proxy_url" mapstructure:"proxy_url"`
	MinBitrate             int64  `json:"min_bitrate" mapstructure:"min_bitrate"`
}

// PerformanceSettings contains retry and timeout tuning.
type PerformanceSettings struct {
	MaxTaskRetries int           `json:"max_task_retries" mapstructure:"max_task_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// EnvPrefix is prepended to every environment override, e.g. HLSGET_GENERAL_STORAGE_DIR.
const EnvPrefix = "HLSGET"

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		General: GeneralSettings{
			StorageDir:        GetDataDir(),
			AutoRestore:       true,
			LogRetentionCount: 5,
			LogLevel:          "debug",
		},
		Connections: ConnectionSettings{
			MaxConcurrentDownloads: 3,
			MaxSegmentConnections:  4,
			UserAgent:              "", // Empty means use default UA
			MinBitrate:             types.DefaultMinBitrate,
		},
		Performance: PerformanceSettings{
			MaxTaskRetries: types.MaxTaskRetries,
			RetryBaseDelay: types.RetryBaseDelay,
			RequestTimeout: types.RequestTimeout,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk with HLSGET_* environment overrides.
// Returns defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	return loadSettingsFrom(GetSettingsPath())
}

func loadSettingsFrom(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	if err := setDefaults(v, DefaultSettings()); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

func setDefaults(v *viper.Viper, s *Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var sections map[string]map[string]any
	if err := json.Unmarshal(data, &sections); err != nil {
		return err
	}
	for section, values := range sections {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}
	return nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	return saveSettingsTo(GetSettingsPath(), s)
}

func saveSettingsTo(path string, s *Settings) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// ToRuntimeConfig creates the engine RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		MaxConcurrentDownloads: s.Connections.MaxConcurrentDownloads,
		MaxSegmentConnections:  s.Connections.MaxSegmentConnections,
		UserAgent:              s.Connections.UserAgent,
		ProxyURL:               s.Connections.ProxyURL,
		MinBitrate:             s.Connections.MinBitrate,
		MaxTaskRetries:         s.Performance.MaxTaskRetries,
		RetryBaseDelay:         s.Performance.RetryBaseDelay,
		RequestTimeout:         s.Performance.RequestTimeout,
	}
}
