package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	w, err := NewWriter(dir, "run-123")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	path, err := w.Write("cpu", map[string]int{"cores": 8})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "cpu-") {
		t.Errorf("file name = %q, want cpu- prefix", filepath.Base(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Collector != "cpu" {
		t.Errorf("collector = %q", env.Collector)
	}
	if env.RunID != "run-123" {
		t.Errorf("run id = %q", env.RunID)
	}
	if env.Timestamp == "" {
		t.Error("timestamp missing")
	}
	if env.Agent["version"] == "" || env.Agent["go_version"] == "" {
		t.Errorf("agent build info missing: %#v", env.Agent)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["cores"] != float64(8) {
		t.Errorf("data = %#v", env.Data)
	}
}

func TestNewWriter_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := NewWriter(dir, "run"); err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("snapshot dir not created: %v", err)
	}
}
