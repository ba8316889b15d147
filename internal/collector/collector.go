// Package collector implements the per-domain hardware collectors and the
// runner that executes them. Each collector declares its tables as schema
// descriptors, acquires raw values from the OS, and persists timestamped
// rows through its own datastore session. A failing collector is logged and
// never aborts its siblings.
package collector

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/snapshot"
	"github.com/probelab/hwpulse/internal/store"
)

// Collector is one hardware domain: it owns its table DDL and knows how to
// acquire and persist one run's worth of rows.
type Collector interface {
	// Name identifies the collector in logs and snapshot files.
	Name() string

	// DDL returns the idempotent statements (tables, unique indexes) the
	// collector needs applied before inserting.
	DDL() []string

	// Collect acquires raw values and persists them through the session.
	Collect(ctx context.Context, sess *store.Session) error

	// Snapshot acquires raw values and returns them for JSON serialization
	// instead of persisting.
	Snapshot(ctx context.Context) (any, error)
}

// Runner executes a set of collectors against the shared datastore file.
// Each collector gets its own session on the same path, mirroring the
// multi-process access pattern the store's busy-retry policy exists for.
type Runner struct {
	dbPath string
	logger *zap.Logger
	runID  uuid.UUID
}

// NewRunner creates a runner writing to the datastore at dbPath.
func NewRunner(dbPath string, logger *zap.Logger) *Runner {
	return &Runner{
		dbPath: dbPath,
		logger: logger,
		runID:  uuid.New(),
	}
}

// RunID identifies this agent run in logs and snapshots.
func (r *Runner) RunID() uuid.UUID {
	return r.runID
}

// Run executes every collector concurrently and waits for all of them.
// Failures are logged with the collector's name; partial telemetry for one
// domain never blocks the others.
func (r *Runner) Run(ctx context.Context, collectors []Collector) {
	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			start := time.Now()
			if err := r.runOne(ctx, c); err != nil {
				r.logger.Error("collector failed",
					zap.String("collector", c.Name()),
					zap.String("run_id", r.runID.String()),
					zap.Error(err),
				)
				return
			}
			r.logger.Info("collector finished",
				zap.String("collector", c.Name()),
				zap.String("run_id", r.runID.String()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}(c)
	}
	wg.Wait()
}

// runOne opens a session, ensures the collector's schema, and collects.
func (r *Runner) runOne(ctx context.Context, c Collector) error {
	sess, err := store.Open(r.dbPath)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Migrate(ctx, c.DDL()); err != nil {
		return err
	}
	return c.Collect(ctx, sess)
}

// Snapshot executes every collector concurrently in one-shot JSON mode,
// writing each collector's acquired values through the writer.
func (r *Runner) Snapshot(ctx context.Context, collectors []Collector, w *snapshot.Writer) {
	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			data, err := c.Snapshot(ctx)
			if err != nil {
				r.logger.Error("snapshot failed",
					zap.String("collector", c.Name()),
					zap.String("run_id", r.runID.String()),
					zap.Error(err),
				)
				return
			}
			path, err := w.Write(c.Name(), data)
			if err != nil {
				r.logger.Error("snapshot write failed",
					zap.String("collector", c.Name()),
					zap.Error(err),
				)
				return
			}
			r.logger.Info("snapshot written",
				zap.String("collector", c.Name()),
				zap.String("path", path),
			)
		}(c)
	}
	wg.Wait()
}

// timestamp returns the collector-assigned row timestamp: UTC RFC 3339 with
// millisecond precision. This column is the only basis downstream readers
// have for ordering rows across collectors.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// runCommand executes an external tool and returns its trimmed stdout.
// Collectors use this for vendor utilities (nvidia-smi, smartctl,
// dmidecode); a missing tool is reported as an error for the caller to
// downgrade to "no sample".
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
