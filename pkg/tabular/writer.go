// Package tabular renders row sets produced by the flatten engine to CSV.
// The column set is the union of keys across all rows in first-seen order;
// cells for keys a row lacks are filled with a configurable missing marker.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Procrustes/pkg/flatten"
)

// Columns returns the union of keys across rows, ordered by first
// appearance. Rows produced by different array branches may carry different
// key sets; the union covers them all.
func Columns(rows flatten.RowSet) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// Options control CSV rendering.
type Options struct {
	// Missing is written into cells whose row lacks the column.
	Missing string

	// Comma is the field delimiter. Defaults to ','.
	Comma rune

	// Header transforms each column name before writing the header row.
	// Nil writes flat keys verbatim.
	Header func(string) string
}

// Option mutates Options.
type Option func(*Options)

// WithMissing sets the marker written for absent cells.
func WithMissing(marker string) Option {
	return func(o *Options) { o.Missing = marker }
}

// WithComma sets the field delimiter.
func WithComma(comma rune) Option {
	return func(o *Options) { o.Comma = comma }
}

// WithHeader sets a header transform applied to each column name.
func WithHeader(transform func(string) string) Option {
	return func(o *Options) { o.Header = transform }
}

// TitleHeader turns a flat key into a friendly column title: separators
// become spaces and words are title-cased, so "user_name" becomes
// "User Name".
func TitleHeader(col string) string {
	words := strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(col)
	return cases.Title(language.English).String(words)
}

// WriteCSV renders rows to w. With no rows (or a single row with no keys)
// there are no columns and nothing is written.
func WriteCSV(w io.Writer, rows flatten.RowSet, opts ...Option) error {
	o := Options{Comma: ','}
	for _, opt := range opts {
		opt(&o)
	}

	cols := Columns(rows)
	if len(cols) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	cw.Comma = o.Comma

	header := make([]string, len(cols))
	for i, c := range cols {
		if o.Header != nil {
			header[i] = o.Header(c)
		} else {
			header[i] = c
		}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			v, ok := r.Get(c)
			if !ok {
				record[i] = o.Missing
				continue
			}
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// RenderCSV is WriteCSV into a string.
func RenderCSV(rows flatten.RowSet, opts ...Option) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, rows, opts...); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// formatCell renders a scalar cell value. Scalars are opaque to the engine,
// so only their textual form is decided here: nil renders empty, numbers
// keep their source text when they arrived as json.Number.
func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
