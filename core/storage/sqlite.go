package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/artpar/odatagate/core/edm"
	"github.com/artpar/odatagate/core/primitive"
)

// SQLiteStore implements Store with SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	// tables maps navigation source names to their entity types
	tables map[string]*edm.EntityType
}

// NewSQLiteStore opens a SQLite database. Use ":memory:" for a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLiteStoreFromDB(db), nil
}

// NewSQLiteStoreFromDB creates a SQLite storage from an existing connection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		tables: make(map[string]*edm.EntityType),
	}
}

// EnsureTable creates the table of a navigation source if missing.
func (s *SQLiteStore) EnsureTable(ctx context.Context, source string, et *edm.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(source, et)); err != nil {
		return fmt.Errorf("create table %s: %w", source, err)
	}
	s.tables[source] = et
	return nil
}

func (s *SQLiteStore) table(source string) (*edm.EntityType, error) {
	s.mu.RLock()
	et, ok := s.tables[source]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return et, nil
}

// List retrieves the records of source.
func (s *SQLiteStore) List(ctx context.Context, source string, opts ListOptions) ([]Record, error) {
	et, err := s.table(source)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(et, opts.Filters)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + columnList(et) + " FROM " + quote(source) + where

	dir := "ASC"
	if opts.OrderDesc {
		dir = "DESC"
	}
	var order []string
	if opts.OrderBy != "" {
		if _, ok := et.Property(opts.OrderBy); !ok {
			return nil, fmt.Errorf("order by unknown property %q", opts.OrderBy)
		}
		order = append(order, quote(opts.OrderBy)+" "+dir)
	}
	for _, k := range et.Keys {
		order = append(order, quote(k.Name)+" "+dir)
	}
	query += " ORDER BY " + strings.Join(order, ", ")

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", source, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows, et)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", source, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get retrieves the record matching keys.
func (s *SQLiteStore) Get(ctx context.Context, source string, keys map[string]any) (Record, error) {
	et, err := s.table(source)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(et, keys)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + columnList(et) + " FROM " + quote(source) + where + " LIMIT 1"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", source, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRecord(rows, et)
}

// Insert stores rec. Guid key properties absent from rec are generated.
func (s *SQLiteStore) Insert(ctx context.Context, source string, rec Record) (Record, error) {
	et, err := s.table(source)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]any, len(et.Keys))
	for _, k := range et.Keys {
		if v, ok := rec[k.Name]; (!ok || v == nil) && k.Kind == primitive.KindGuid {
			rec[k.Name] = uuid.New()
		}
		keys[k.Name] = rec[k.Name]
	}

	var columns, placeholders []string
	var values []any
	for _, p := range et.Properties {
		v, ok := rec[p.Name]
		if !ok || v == nil {
			if !p.Nullable || et.IsKey(p.Name) {
				return nil, required(p)
			}
			continue
		}
		col, err := toColumn(p.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		columns = append(columns, quote(p.Name))
		placeholders = append(placeholders, "?")
		values = append(values, col)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(source), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, insertSQL, values...); err != nil {
		if isConstraint(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert %s: %w", source, err)
	}

	return s.Get(ctx, source, keys)
}

// Update overwrites the given properties. Key properties and unknown names
// are ignored.
func (s *SQLiteStore) Update(ctx context.Context, source string, keys map[string]any, rec Record) error {
	et, err := s.table(source)
	if err != nil {
		return err
	}

	var sets []string
	var values []any
	for _, p := range et.Properties {
		v, ok := rec[p.Name]
		if !ok || et.IsKey(p.Name) {
			continue
		}
		if v == nil && !p.Nullable {
			return required(p)
		}
		col, err := toColumn(p.Kind, v)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		sets = append(sets, quote(p.Name)+" = ?")
		values = append(values, col)
	}

	where, args, err := whereClause(et, keys)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		_, err := s.Get(ctx, source, keys)
		return err
	}

	updateSQL := "UPDATE " + quote(source) + " SET " + strings.Join(sets, ", ") + where
	result, err := s.db.ExecContext(ctx, updateSQL, append(values, args...)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", source, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record matching keys.
func (s *SQLiteStore) Delete(ctx context.Context, source string, keys map[string]any) error {
	et, err := s.table(source)
	if err != nil {
		return err
	}

	where, args, err := whereClause(et, keys)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(source)+where, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", source, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func columnList(et *edm.EntityType) string {
	cols := make([]string, len(et.Properties))
	for i, p := range et.Properties {
		cols[i] = quote(p.Name)
	}
	return strings.Join(cols, ", ")
}

// whereClause builds equality conditions in property order so generated SQL
// is stable.
func whereClause(et *edm.EntityType, conds map[string]any) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	var parts []string
	var args []any
	for _, p := range et.Properties {
		v, ok := conds[p.Name]
		if !ok {
			continue
		}
		if v == nil {
			parts = append(parts, quote(p.Name)+" IS NULL")
			continue
		}
		col, err := toColumn(p.Kind, v)
		if err != nil {
			return "", nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		parts = append(parts, quote(p.Name)+" = ?")
		args = append(args, col)
	}
	if len(parts) != len(conds) {
		for name := range conds {
			if _, ok := et.Property(name); !ok {
				return "", nil, fmt.Errorf("filter on unknown property %q", name)
			}
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func scanRecord(rows *sql.Rows, et *edm.EntityType) (Record, error) {
	values := make([]any, len(et.Properties))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	rec := make(Record, len(values))
	for i, p := range et.Properties {
		v, err := fromColumn(p.Kind, values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", p.Name, err)
		}
		rec[p.Name] = v
	}
	return rec, nil
}

func required(p edm.Property) error {
	return &primitive.ValidationError{
		Constraint: primitive.ConstraintNull,
		Target:     p.Kind.Type(),
		Message:    fmt.Sprintf("The property %s is required.", p.Name),
	}
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
