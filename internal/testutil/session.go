package testutil

import (
	"path/filepath"
	"testing"

	"github.com/probelab/hwpulse/internal/store"
)

// NewSession creates a datastore session on a throwaway file for testing.
// The session is automatically closed when the test completes.
func NewSession(t *testing.T) *store.Session {
	t.Helper()
	sess, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("testutil.NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}
