package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

func TestProgressMsg_Coverage(t *testing.T) {
	tests := []struct {
		name     string
		loaded   []types.TimeRange
		expected time.Duration
		want     float64
	}{
		{"nothing loaded", nil, 10 * time.Second, 0},
		{"one range", []types.TimeRange{{Start: 0, Duration: 5 * time.Second}}, 10 * time.Second, 0.5},
		{
			"disjoint ranges are summed",
			[]types.TimeRange{
				{Start: 0, Duration: 2 * time.Second},
				{Start: 6 * time.Second, Duration: 3 * time.Second},
			},
			10 * time.Second, 0.5,
		},
		{"unknown expected duration", []types.TimeRange{{Duration: time.Second}}, 0, 0},
		{"everything", []types.TimeRange{{Duration: 4 * time.Second}}, 4 * time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ProgressMsg{
				TaskID:        "t",
				LoadedRanges:  tt.loaded,
				ExpectedRange: types.TimeRange{Duration: tt.expected},
			}
			assert.InDelta(t, tt.want, msg.Coverage(), 1e-9)
		})
	}
}

func TestMessageTypes_AreDistinct(t *testing.T) {
	messages := []interface{}{
		ProgressMsg{TaskID: "progress"},
		SegmentCompleteMsg{TaskID: "segment"},
		TerminalMsg{TaskID: "terminal"},
		AssetProgressMsg{Name: "a"},
		AssetFinishedMsg{Name: "a"},
		AssetFailedMsg{Name: "a"},
	}

	typeNames := make(map[string]bool)
	for _, msg := range messages {
		typeName := fmt.Sprintf("%T", msg)
		assert.False(t, typeNames[typeName], "duplicate type %s", typeName)
		typeNames[typeName] = true
	}
	assert.Len(t, typeNames, 6)
}
