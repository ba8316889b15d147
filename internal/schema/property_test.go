package schema_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/probelab/hwpulse/internal/schema"
)

// genTable builds an arbitrary valid table: distinct column names, random
// storage types, random NOT NULL flags, and an optional autoincrement
// primary key in front.
func genTable() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(8, gen.IntRange(0, 2)),
		gen.SliceOfN(8, gen.Bool()),
		gen.IntRange(1, 8),
		gen.Bool(),
	).Map(func(vals []interface{}) schema.Table {
		types := vals[0].([]int)
		notNulls := vals[1].([]bool)
		count := vals[2].(int)
		withPrimary := vals[3].(bool)

		var fields []schema.FieldDescriptor
		if withPrimary {
			fields = append(fields, schema.FieldDescriptor{
				Name: "id", Type: schema.Integer,
				Key: schema.KeyPrimary, Option: schema.OptAutoincrement,
			})
		}
		for i := 0; i < count; i++ {
			fields = append(fields, schema.FieldDescriptor{
				Name:    fmt.Sprintf("col_%d", i),
				Type:    schema.ColumnType(types[i]),
				NotNull: notNulls[i],
			})
		}
		return schema.Table{Name: "prop_table", Fields: fields}
	})
}

func TestCreateTableProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("valid tables always compile to IF NOT EXISTS DDL", prop.ForAll(
		func(table schema.Table) bool {
			ddl, err := schema.CreateTable(table)
			if err != nil {
				return false
			}
			return strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS prop_table (") &&
				strings.HasSuffix(ddl, ")")
		},
		genTable(),
	))

	properties.Property("compilation is deterministic", prop.ForAll(
		func(table schema.Table) bool {
			first, err1 := schema.CreateTable(table)
			second, err2 := schema.CreateTable(table)
			return err1 == nil && err2 == nil && first == second
		},
		genTable(),
	))

	properties.Property("every non-primary column appears exactly once in insert order", prop.ForAll(
		func(table schema.Table) bool {
			stmt, err := schema.Insert(table)
			if err != nil {
				return false
			}
			seen := make(map[string]int)
			for _, col := range stmt.Columns {
				seen[col]++
			}
			for _, f := range table.Fields {
				if f.Key == schema.KeyPrimary {
					if seen[f.ColumnName()] != 0 {
						return false
					}
					continue
				}
				if seen[f.ColumnName()] != 1 {
					return false
				}
			}
			// Placeholder count matches the bind-order contract.
			return strings.Count(stmt.SQL, "?") == len(stmt.Columns)
		},
		genTable(),
	))

	properties.Property("a second primary key is always rejected", prop.ForAll(
		func(table schema.Table) bool {
			fields := append([]schema.FieldDescriptor{}, table.Fields...)
			fields = append(fields, schema.FieldDescriptor{
				Name: "rogue_id", Type: schema.Integer, Key: schema.KeyPrimary,
			})
			_, err := schema.CreateTable(schema.Table{Name: table.Name, Fields: fields})
			return errors.Is(err, schema.ErrMultiplePrimaryKeys)
		},
		genTable().SuchThat(func(table schema.Table) bool {
			return table.Fields[0].Key == schema.KeyPrimary
		}),
	))

	properties.TestingRun(t)
}
