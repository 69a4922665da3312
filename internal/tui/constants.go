package tui

import "time"

const (
	// TickInterval is how often the service is polled for statuses
	TickInterval = 500 * time.Millisecond

	// Layout
	DefaultPaddingX        = 1
	DefaultPaddingY        = 0
	MinProgressBarWidth    = 20
	MaxProgressBarWidth    = 80
	ProgressBarWidthOffset = 8
	NameColumnWidth        = 32
)
