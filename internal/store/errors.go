package store

import (
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrorKind classifies datastore failures for callers that branch on the
// failure class rather than the driver message.
type ErrorKind int

const (
	// KindOpenFailed means the backing file could not be created or opened.
	KindOpenFailed ErrorKind = iota
	// KindBusy means file-level contention persisted past the retry budget.
	KindBusy
	// KindConstraint means the engine rejected a value (NOT NULL, UNIQUE
	// outside an upsert conflict path, foreign key).
	KindConstraint
	// KindEngine covers every other driver-reported failure.
	KindEngine
)

func (k ErrorKind) String() string {
	switch k {
	case KindOpenFailed:
		return "open_failed"
	case KindBusy:
		return "busy"
	case KindConstraint:
		return "constraint"
	default:
		return "engine"
	}
}

// StorageError wraps a driver error with its classification and the
// operation that produced it.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain, or KindEngine
// when the error did not originate in this package.
func KindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindEngine
}

// classify maps a driver error onto the StorageError taxonomy using the
// SQLite primary result code.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: kindFor(err), Op: op, Err: err}
}

func kindFor(err error) ErrorKind {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return KindEngine
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return KindBusy
	case sqlite3.SQLITE_CONSTRAINT:
		return KindConstraint
	case sqlite3.SQLITE_CANTOPEN:
		return KindOpenFailed
	default:
		return KindEngine
	}
}

// retryable reports whether the error is transient lock contention worth
// another attempt.
func retryable(err error) bool {
	return KindOf(err) == KindBusy
}
