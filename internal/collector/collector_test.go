package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/probelab/hwpulse/internal/snapshot"
	"github.com/probelab/hwpulse/internal/store"
	"github.com/probelab/hwpulse/internal/testutil"
)

// fakeCollector records one row per run into its own table.
type fakeCollector struct {
	name     string
	failWith error
	runs     atomic.Int64
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) DDL() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS " + f.name + "_data (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TEXT NOT NULL)",
	}
}

func (f *fakeCollector) Collect(ctx context.Context, sess *store.Session) error {
	f.runs.Add(1)
	if f.failWith != nil {
		return f.failWith
	}
	_, err := sess.Insert(ctx,
		"INSERT INTO "+f.name+"_data (timestamp) VALUES (?)", timestamp())
	return err
}

func (f *fakeCollector) Snapshot(context.Context) (any, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return map[string]string{"collector": f.name}, nil
}

func TestRunner_Run(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data.db")
	r := NewRunner(dbPath, testutil.Logger())

	alpha := &fakeCollector{name: "alpha"}
	beta := &fakeCollector{name: "beta"}
	r.Run(context.Background(), []Collector{alpha, beta})

	sess, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	for _, table := range []string{"alpha_data", "beta_data"} {
		var count int
		row := sess.DB().QueryRow("SELECT COUNT(*) FROM " + table)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("%s rows = %d, want 1", table, count)
		}
	}
}

// One collector failing must not keep the others from persisting.
func TestRunner_FailureDoesNotAbortSiblings(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data.db")
	r := NewRunner(dbPath, testutil.Logger())

	broken := &fakeCollector{name: "broken", failWith: errors.New("sensor gone")}
	healthy := &fakeCollector{name: "healthy"}
	r.Run(context.Background(), []Collector{broken, healthy})

	if broken.runs.Load() != 1 || healthy.runs.Load() != 1 {
		t.Fatalf("runs = %d/%d, want 1/1", broken.runs.Load(), healthy.runs.Load())
	}

	sess, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	var count int
	if err := sess.DB().QueryRow("SELECT COUNT(*) FROM healthy_data").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("healthy rows = %d, want 1", count)
	}
}

func TestRunner_Snapshot(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "data.db"), testutil.Logger())

	dir := t.TempDir()
	w, err := snapshot.NewWriter(dir, r.RunID().String())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	r.Snapshot(context.Background(), []Collector{
		&fakeCollector{name: "alpha"},
		&fakeCollector{name: "broken", failWith: errors.New("sensor gone")},
	}, w)

	matches, err := filepath.Glob(filepath.Join(dir, "alpha-*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("alpha snapshots = %v (err %v), want exactly one", matches, err)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "broken-*.json")); len(matches) != 0 {
		t.Errorf("failed collector wrote snapshots: %v", matches)
	}
}
