// Package storage persists the entities of entity sets and singletons.
// Tables are created from EDM entity types; values cross the boundary as
// the natural wire values of their kinds (see primitive.Kind.Type).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
)

var (
	// ErrNotFound is returned when no record matches the given keys.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("storage: record already exists")

	// ErrUnknownSource is returned for a navigation source without a table.
	ErrUnknownSource = errors.New("storage: unknown navigation source")
)

// Record is one stored entity keyed by property name.
type Record map[string]any

// Store provides CRUD operations over the tables of navigation sources.
type Store interface {
	// EnsureTable creates the table of a navigation source if missing.
	EnsureTable(ctx context.Context, source string, et *edm.EntityType) error

	// List returns the records of source.
	List(ctx context.Context, source string, opts ListOptions) ([]Record, error)

	// Get returns the record matching keys. Empty keys select the first
	// record, which is how singletons are read.
	Get(ctx context.Context, source string, keys map[string]any) (Record, error)

	// Insert stores rec and returns it as persisted, generated keys included.
	Insert(ctx context.Context, source string, rec Record) (Record, error)

	// Update overwrites the given properties of the record matching keys.
	Update(ctx context.Context, source string, keys map[string]any, rec Record) error

	// Delete removes the record matching keys.
	Delete(ctx context.Context, source string, keys map[string]any) error

	// Close releases the underlying connection.
	Close() error
}

// ListOptions configures list queries.
type ListOptions struct {
	// Limit is the maximum number of records; zero means no limit.
	Limit int

	// Offset is the number of records to skip.
	Offset int

	// Filters are property-value equality conditions.
	Filters map[string]any

	// OrderBy names a property; empty orders by key.
	OrderBy string

	// OrderDesc sorts in descending order.
	OrderDesc bool
}

// Affinity returns the SQLite column affinity used to store kind.
func Affinity(kind primitive.Kind) string {
	switch kind {
	case primitive.KindBoolean, primitive.KindByte, primitive.KindSByte,
		primitive.KindInt16, primitive.KindInt32, primitive.KindInt64:
		return "INTEGER"
	case primitive.KindSingle, primitive.KindDouble, primitive.KindDecimal:
		return "REAL"
	case primitive.KindBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// BuildCreateTableSQL generates CREATE TABLE SQL for an entity type. The
// primary key spans every key property in declared order.
func BuildCreateTableSQL(table string, et *edm.EntityType) string {
	columns := make([]string, 0, len(et.Properties)+1)
	for _, p := range et.Properties {
		col := quote(p.Name) + " " + Affinity(p.Kind)
		if !p.Nullable || et.IsKey(p.Name) {
			col += " NOT NULL"
		}
		columns = append(columns, col)
	}

	keys := make([]string, len(et.Keys))
	for i, k := range et.Keys {
		keys[i] = quote(k.Name)
	}
	columns = append(columns, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		quote(table), strings.Join(columns, ",\n  "))
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
