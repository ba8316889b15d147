// Package schema turns declarative column descriptions into SQLite DDL and
// DML. Each collector declares its tables as ordered FieldDescriptor lists;
// the compiler emits idempotent CREATE TABLE statements, plain inserts, and
// insert-or-update-on-conflict upserts from those descriptions, so no
// collector carries hand-written SQL.
package schema

import (
	"errors"
	"fmt"
)

// ColumnType is one of the three SQLite storage classes the compiler emits.
type ColumnType int

const (
	Integer ColumnType = iota
	Real
	Text
)

// SQL returns the SQLite type keyword for the storage class.
func (t ColumnType) SQL() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	case Text:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// KeyRole marks a column as the table's primary key. At most one column per
// table may carry KeyPrimary; it is always declared INTEGER PRIMARY KEY.
type KeyRole int

const (
	KeyNone KeyRole = iota
	KeyPrimary
)

// ColumnOption carries the per-column extras. OptAutoincrement is legal only
// on the primary key column. OptUnique marks a column as eligible to back a
// conflict target without an extra index.
type ColumnOption int

const (
	OptNone ColumnOption = iota
	OptAutoincrement
	OptUnique
)

// FieldDescriptor describes one table column. Name is the physical column
// name; when Unit is non-empty it is appended as a suffix (e.g. "space_total"
// with unit "MB" becomes the column "space_total_MB"). Unit never affects the
// storage type.
type FieldDescriptor struct {
	Name    string
	Unit    string
	Type    ColumnType
	NotNull bool
	Key     KeyRole
	Option  ColumnOption
}

// ColumnName returns the physical column name, unit suffix included.
func (f FieldDescriptor) ColumnName() string {
	if f.Unit == "" {
		return f.Name
	}
	return f.Name + "_" + f.Unit
}

// Table is an ordered, immutable sequence of field descriptors plus the
// table name. Built once per collector at startup and handed to the compiler
// on every run.
type Table struct {
	Name   string
	Fields []FieldDescriptor
}

// Sentinel errors for descriptor-level failures. All are deterministic,
// detectable before touching the datastore, and never retried.
var (
	ErrEmptySchema                 = errors.New("schema: empty descriptor list")
	ErrMultiplePrimaryKeys         = errors.New("schema: more than one primary key column")
	ErrAutoincrementWithoutPrimary = errors.New("schema: autoincrement requires a primary key column")
	ErrEmptyConflictTarget         = errors.New("schema: empty conflict target")
	ErrUnknownColumn               = errors.New("schema: unknown column")
	ErrConflictTargetExcluded      = errors.New("schema: conflict target overlaps excluded columns")
)

// validate checks the table-level descriptor invariants.
func validate(t Table) error {
	if len(t.Fields) == 0 {
		return fmt.Errorf("table %q: %w", t.Name, ErrEmptySchema)
	}
	primaries := 0
	for _, f := range t.Fields {
		if f.Key == KeyPrimary {
			primaries++
		}
		if f.Option == OptAutoincrement && f.Key != KeyPrimary {
			return fmt.Errorf("table %q, column %q: %w", t.Name, f.Name, ErrAutoincrementWithoutPrimary)
		}
	}
	if primaries > 1 {
		return fmt.Errorf("table %q: %w", t.Name, ErrMultiplePrimaryKeys)
	}
	return nil
}

// primary returns the primary key descriptor, if the table declares one.
func primary(t Table) (FieldDescriptor, bool) {
	for _, f := range t.Fields {
		if f.Key == KeyPrimary {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// field looks a descriptor up by its physical column name.
func field(t Table, column string) (FieldDescriptor, bool) {
	for _, f := range t.Fields {
		if f.ColumnName() == column {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
