package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/probelab/hwpulse/internal/store"
)

func makeDatastore(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "data.db")
	sess, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := sess.Migrate(ctx, []string{
		"CREATE TABLE IF NOT EXISTS board_data (id INTEGER PRIMARY KEY, board_serial TEXT)",
	}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := sess.Insert(ctx, "INSERT INTO board_data (board_serial) VALUES (?)", "SN-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dbPath
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	dbPath := makeDatastore(t, srcDir)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := Backup(ctx, dbPath, "", archive); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restoreDir := t.TempDir()
	if err := Restore(ctx, archive, restoreDir, false); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	sess, err := store.Open(filepath.Join(restoreDir, "data.db"))
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	var serial string
	if err := sess.DB().QueryRow("SELECT board_serial FROM board_data").Scan(&serial); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if serial != "SN-1" {
		t.Errorf("board_serial = %q, want SN-1", serial)
	}
}

func TestRestore_RefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	dbPath := makeDatastore(t, srcDir)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := Backup(ctx, dbPath, "", archive); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	dest := t.TempDir()
	existing := filepath.Join(dest, "data.db")
	if err := os.WriteFile(existing, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Restore(ctx, archive, dest, false); err == nil {
		t.Fatal("Restore without force overwrote an existing file")
	}
	raw, err := os.ReadFile(existing)
	if err != nil || string(raw) != "precious" {
		t.Fatalf("existing file was modified: %q %v", raw, err)
	}

	// force replaces it.
	if err := Restore(ctx, archive, dest, true); err != nil {
		t.Fatalf("forced Restore: %v", err)
	}
}

func TestBackup_MissingDatabase(t *testing.T) {
	err := Backup(context.Background(),
		filepath.Join(t.TempDir(), "absent.db"), "", filepath.Join(t.TempDir(), "out.tar.gz"))
	if err == nil {
		t.Fatal("Backup on a missing database should fail")
	}
}
