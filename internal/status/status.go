// Package status maintains the per-port JSON status file that external tools
// (statuslines, dashboards) poll for the latest request's usage.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

// Snapshot is the file's content.
type Snapshot struct {
	Model               string    `json:"model"`
	Backend             string    `json:"backend"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	TotalInputTokens    int       `json:"total_input_tokens"`
	TotalOutputTokens   int       `json:"total_output_tokens"`
	EstimatedCostUSD    float64   `json:"estimated_cost_usd"`
	ContextWindow       int       `json:"context_window"`
	ContextUsedPct      float64   `json:"context_used_pct"`
	ContextRemainingPct float64   `json:"context_remaining_pct"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Update describes one finished response.
type Update struct {
	Model         string
	Backend       string
	InputTokens   int
	OutputTokens  int
	ContextWindow int
}

// Path returns the status file path for a listening port.
func Path(baseDir string, port int) string {
	return filepath.Join(baseDir, fmt.Sprintf("status-%d.json", port))
}

// Recorder accumulates usage across responses and rewrites the status file.
type Recorder struct {
	path    string
	pricing config.Pricing
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	totalIn  int
	totalOut int
}

func NewRecorder(path string, pricing config.Pricing, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		path:    path,
		pricing: pricing,
		logger:  logger,
		now:     time.Now,
	}
}

// Record folds u into the running totals and writes the file. A nil Recorder
// does nothing.
func (r *Recorder) Record(u Update) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalIn += u.InputTokens
	r.totalOut += u.OutputTokens

	snap := Snapshot{
		Model:             u.Model,
		Backend:           u.Backend,
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		TotalInputTokens:  r.totalIn,
		TotalOutputTokens: r.totalOut,
		EstimatedCostUSD:  r.cost(),
		ContextWindow:     u.ContextWindow,
		UpdatedAt:         r.now().UTC(),
	}
	if u.ContextWindow > 0 {
		used := float64(u.InputTokens+u.OutputTokens) / float64(u.ContextWindow) * 100
		used = min(used, 100)
		snap.ContextUsedPct = round2(used)
		snap.ContextRemainingPct = round2(100 - used)
	}

	if err := writeAtomic(r.path, snap); err != nil {
		r.logger.Warn("Failed to write status file", "path", r.path, "error", err)
		return snap, err
	}
	return snap, nil
}

func (r *Recorder) cost() float64 {
	in := float64(r.totalIn) / 1e6 * r.pricing.InputPerMTok
	out := float64(r.totalOut) / 1e6 * r.pricing.OutputPerMTok
	return in + out
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// writeAtomic replaces path via a temp file in the same directory.
func writeAtomic(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Read loads a status file.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse status file %s: %w", path, err)
	}
	return &snap, nil
}
