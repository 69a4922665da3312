package utils

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logMu   sync.RWMutex
	logger  = zerolog.Nop()
	logFile *os.File
	logsDir string
)

const debugLogPrefix = "debug-"

// ConfigureDebug opens a new timestamped log file in dir and routes Debug
// and Log output there. Until it is called, logging is discarded.
func ConfigureDebug(dir string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	name := debugLogPrefix + time.Now().Format("20060102-150405") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}

	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logsDir = dir
	logger = zerolog.New(f).With().Timestamp().Logger()
}

// SetOutput routes logging to w at the given level. Used by the foreground
// CLI and by tests.
func SetOutput(w io.Writer, level zerolog.Level) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetLevel parses a level name (trace, debug, info, warn, error) and applies it.
func SetLevel(name string) {
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || name == "" {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	logger = logger.Level(level)
}

// Log returns the structured logger.
func Log() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := logger
	return &l
}

// Debug writes a formatted debug message
func Debug(format string, args ...any) {
	Log().Debug().Msgf(format, args...)
}

// CleanupLogs keeps the newest retention debug logs in the configured logs dir.
func CleanupLogs(retention int) {
	logMu.RLock()
	dir := logsDir
	logMu.RUnlock()
	if dir == "" || retention <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), debugLogPrefix) && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= retention {
		return
	}

	// Timestamped names sort chronologically
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-retention] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
