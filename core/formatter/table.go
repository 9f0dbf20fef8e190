package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Name returns the formatter name.
func (f *TableFormatter) Name() string {
	return "table"
}

// Description returns the formatter description.
func (f *TableFormatter) Description() string {
	return "Aligned text table output"
}

// FormatList formats a listing as a table.
func (f *TableFormatter) FormatList(w io.Writer, list Listing, opts FormatOptions) error {
	if len(list.Rows) == 0 {
		fmt.Fprintf(w, "No %s found.\n", list.Kind)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	columns := opts.columns(list)

	if !opts.NoHeader {
		headers := make([]string, len(columns))
		rules := make([]string, len(columns))
		for i, col := range columns {
			headers[i] = strings.ToUpper(col)
			rules[i] = strings.Repeat("-", len(col))
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		fmt.Fprintln(tw, strings.Join(rules, "\t"))
	}

	for _, row := range list.Rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = f.formatValue(row[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	return tw.Flush()
}

// FormatError formats an error message.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	fmt.Fprintf(w, "Error: %s\n", err.Error())
	return nil
}

// formatValue formats a value for display.
func (f *TableFormatter) formatValue(val any, maxWidth int) string {
	if val == nil {
		return "-"
	}

	var str string
	switch v := val.(type) {
	case string:
		str = v
	case []string:
		str = strings.Join(v, ", ")
	case bool:
		if v {
			str = "yes"
		} else {
			str = "no"
		}
	case fmt.Stringer:
		str = v.String()
	default:
		b, _ := json.Marshal(v)
		str = string(b)
	}
	if str == "" {
		str = "-"
	}

	if maxWidth > 3 && len(str) > maxWidth {
		str = str[:maxWidth-3] + "..."
	}
	return str
}
