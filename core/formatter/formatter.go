// Package formatter renders listings for the command line.
// Formatters convert rows to an output format (table, json, yaml).
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Listing is a named set of rows with an ordered column list.
type Listing struct {
	// Kind names what is listed ("routes").
	Kind string

	// Columns in display order. Rows may hold keys outside this list; they
	// are not shown.
	Columns []string

	Rows []map[string]any
}

// Formatter converts a listing to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a listing.
	FormatList(w io.Writer, list Listing, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns overrides the listing's columns.
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (for json).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

func (o FormatOptions) columns(list Listing) []string {
	if len(o.Columns) > 0 {
		return o.Columns
	}
	return list.Columns
}

// project keeps only the selected columns of each row.
func project(rows []map[string]any, columns []string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		kept := make(map[string]any, len(columns))
		for _, col := range columns {
			if v, ok := row[col]; ok {
				kept[col] = v
			}
		}
		out[i] = kept
	}
	return out
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name. An empty name yields the default.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultFmt
	}
	f, ok := r.formatters[name]
	return f, ok
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the table, json and yaml formatters.
var DefaultRegistry = NewRegistry()

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}

func init() {
	for _, f := range []Formatter{NewTableFormatter(), NewJSONFormatter(), NewYAMLFormatter()} {
		if err := DefaultRegistry.Register(f); err != nil {
			panic(err)
		}
	}
}
