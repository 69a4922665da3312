package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "hlsget",
	Short:   "A resumable HLS download manager",
	Long:    `hlsget downloads HLS streams for offline use, keeps track of finished assets and resumes interrupted downloads.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate("hlsget version {{.Version}}\n")
}

// loadSettings falls back to defaults when the settings file is unusable.
func loadSettings() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		return config.DefaultSettings()
	}
	return settings
}

// initializeGlobalState sets up the directories and logging
func initializeGlobalState() {
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create state directories: %v\n", err)
	}

	utils.ConfigureDebug(config.GetLogsDir())

	settings := loadSettings()
	if config.GetAppDir() != "" {
		if _, err := os.Stat(config.GetSettingsPath()); os.IsNotExist(err) {
			if err := config.SaveSettings(config.DefaultSettings()); err != nil {
				utils.Debug("Failed to write default settings: %v", err)
			}
		}
	}
	utils.SetLevel(settings.General.LogLevel)
	utils.CleanupLogs(settings.General.LogRetentionCount)
	utils.Debug("hlsget %s (built %s) starting", Version, BuildTime)
}
