package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

func TestRecorder_Record(t *testing.T) {
	path := Path(t.TempDir(), 6970)
	assert.Equal(t, "status-6970.json", filepath.Base(path))

	r := NewRecorder(path, config.Pricing{InputPerMTok: 3, OutputPerMTok: 15}, nil)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	_, err := r.Record(Update{Model: "openai/gpt-4o", Backend: "openrouter", InputTokens: 1000, OutputTokens: 500, ContextWindow: 10000})
	require.NoError(t, err)
	snap, err := r.Record(Update{Model: "openai/gpt-4o", Backend: "openrouter", InputTokens: 2000, OutputTokens: 500, ContextWindow: 10000})
	require.NoError(t, err)

	assert.Equal(t, 3000, snap.TotalInputTokens)
	assert.Equal(t, 1000, snap.TotalOutputTokens)
	assert.InDelta(t, 0.009+0.015, snap.EstimatedCostUSD, 1e-9)
	assert.InDelta(t, 25.0, snap.ContextUsedPct, 1e-9)
	assert.InDelta(t, 75.0, snap.ContextRemainingPct, 1e-9)

	onDisk, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, snap, *onDisk)
	assert.Equal(t, fixed, onDisk.UpdatedAt)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestRecorder_ContextPercentages(t *testing.T) {
	tests := []struct {
		name          string
		update        Update
		wantUsed      float64
		wantRemaining float64
	}{
		{"unknown window", Update{InputTokens: 10}, 0, 0},
		{"over window capped", Update{InputTokens: 300, OutputTokens: 50, ContextWindow: 200}, 100, 0},
		{"fraction rounded", Update{InputTokens: 1, ContextWindow: 3}, 33.33, 66.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(Path(t.TempDir(), 1), config.Pricing{}, nil)
			snap, err := r.Record(tt.update)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantUsed, snap.ContextUsedPct, 1e-9)
			assert.InDelta(t, tt.wantRemaining, snap.ContextRemainingPct, 1e-9)
			assert.Zero(t, snap.EstimatedCostUSD)
		})
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	snap, err := r.Record(Update{InputTokens: 5})
	require.NoError(t, err)
	assert.Zero(t, snap)
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Read(bad)
	assert.Error(t, err)
}
