// Package snapshot writes one-shot JSON captures of collector data, the
// file-based alternative to the SQLite sink.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/probelab/hwpulse/internal/version"
)

// Envelope wraps a collector's data with the capture metadata every
// snapshot file carries. Agent records the build that produced the
// capture so snapshots from different agent versions stay comparable.
type Envelope struct {
	Collector string            `json:"collector"`
	RunID     string            `json:"run_id"`
	Timestamp string            `json:"timestamp"`
	Agent     map[string]string `json:"agent"`
	Data      any               `json:"data"`
}

// Writer persists snapshots as indented JSON files under Dir, one file per
// collector per run.
type Writer struct {
	Dir   string
	RunID string
}

// NewWriter creates the snapshot directory if needed.
func NewWriter(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %q: %w", dir, err)
	}
	return &Writer{Dir: dir, RunID: runID}, nil
}

// Write marshals data into <dir>/<collector>-<timestamp>.json and returns
// the written path.
func (w *Writer) Write(collector string, data any) (string, error) {
	now := time.Now().UTC()
	env := Envelope{
		Collector: collector,
		RunID:     w.RunID,
		Timestamp: now.Format(time.RFC3339),
		Agent:     version.Map(),
		Data:      data,
	}

	buf, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s snapshot: %w", collector, err)
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("%s-%s.json", collector, now.Format("20060102-150405")))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write %s snapshot: %w", collector, err)
	}
	return path, nil
}
