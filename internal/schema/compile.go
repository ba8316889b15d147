package schema

import (
	"fmt"
	"strings"
)

// Statement is a compiled DML statement plus the finalized column order.
// Callers bind values positionally in exactly Columns order; exposing the
// order here is what keeps callers from silently misaligning placeholders.
type Statement struct {
	// IndexDDL is a CREATE UNIQUE INDEX statement backing the conflict
	// target, or empty when the table's declared UNIQUE column already
	// provides the index. Only set for upserts.
	IndexDDL string

	// SQL is the INSERT statement, parameterized with ? placeholders.
	SQL string

	// Columns is the physical column list, in placeholder order.
	Columns []string
}

// CreateTable compiles an idempotent CREATE TABLE statement from the
// descriptor list. The output is deterministic: the same table always yields
// byte-identical DDL, and re-applying it against an existing table is a
// no-op thanks to IF NOT EXISTS.
func CreateTable(t Table) (string, error) {
	if err := validate(t); err != nil {
		return "", err
	}

	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		cols = append(cols, columnDef(f))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(cols, ", ")), nil
}

// columnDef renders a single column definition.
func columnDef(f FieldDescriptor) string {
	if f.Key == KeyPrimary {
		// The primary key is always INTEGER regardless of declared type.
		def := f.ColumnName() + " INTEGER PRIMARY KEY"
		if f.Option == OptAutoincrement {
			def += " AUTOINCREMENT"
		}
		return def
	}

	def := f.ColumnName() + " " + f.Type.SQL()
	if f.NotNull {
		def += " NOT NULL"
	}
	if f.Option == OptUnique {
		def += " UNIQUE"
	}
	return def
}

// Insert compiles a plain parameterized INSERT over every non-primary
// column, in descriptor order. The primary key is left to the engine's
// auto-assignment.
func Insert(t Table) (Statement, error) {
	if err := validate(t); err != nil {
		return Statement{}, err
	}

	cols := insertColumns(t)
	return Statement{
		SQL:     insertSQL(t.Name, cols),
		Columns: cols,
	}, nil
}

// Upsert compiles an INSERT ... ON CONFLICT(...) DO UPDATE statement.
// conflictTarget names the columns whose combined values must be unique;
// excludedFromUpdate names columns that keep the original row's values on
// conflict (typically the rowid and insertion timestamp). Both sets use
// physical column names.
//
// When the conflict target needs a unique index that the table does not
// already declare, the returned Statement carries the CREATE UNIQUE INDEX
// DDL; apply it with the table's DDL before executing the insert.
func Upsert(t Table, conflictTarget, excludedFromUpdate []string) (Statement, error) {
	if err := validate(t); err != nil {
		return Statement{}, err
	}
	if len(conflictTarget) == 0 {
		return Statement{}, fmt.Errorf("table %q: %w", t.Name, ErrEmptyConflictTarget)
	}

	excluded := make(map[string]bool, len(excludedFromUpdate))
	for _, name := range excludedFromUpdate {
		if _, ok := field(t, name); !ok {
			return Statement{}, fmt.Errorf("table %q, excluded column %q: %w", t.Name, name, ErrUnknownColumn)
		}
		excluded[name] = true
	}

	for _, name := range conflictTarget {
		f, ok := field(t, name)
		if !ok {
			return Statement{}, fmt.Errorf("table %q, conflict column %q: %w", t.Name, name, ErrUnknownColumn)
		}
		if excluded[name] || f.Key == KeyPrimary {
			return Statement{}, fmt.Errorf("table %q, conflict column %q: %w", t.Name, name, ErrConflictTargetExcluded)
		}
	}

	cols := insertColumns(t)

	var sets []string
	for _, col := range cols {
		if excluded[col] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	sql := insertSQL(t.Name, cols)
	sql += fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s",
		strings.Join(conflictTarget, ", "), strings.Join(sets, ", "))

	return Statement{
		IndexDDL: conflictIndexDDL(t, conflictTarget),
		SQL:      sql,
		Columns:  cols,
	}, nil
}

// insertColumns returns every non-primary physical column name, in
// descriptor order.
func insertColumns(t Table) []string {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Key == KeyPrimary {
			continue
		}
		cols = append(cols, f.ColumnName())
	}
	return cols
}

// insertSQL renders the INSERT prefix with one placeholder per column.
func insertSQL(table string, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders)
}

// conflictIndexDDL returns the unique index DDL backing the conflict target,
// or "" when a single-column target is already declared UNIQUE in the table
// (SQLite creates the implicit index in that case). Composite targets always
// need an explicit index: per-column UNIQUE constraints do not satisfy a
// multi-column ON CONFLICT clause.
func conflictIndexDDL(t Table, conflictTarget []string) string {
	if len(conflictTarget) == 1 {
		if f, ok := field(t, conflictTarget[0]); ok && f.Option == OptUnique {
			return ""
		}
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
		t.Name, strings.Join(conflictTarget, "_"), t.Name, strings.Join(conflictTarget, ", "))
}
