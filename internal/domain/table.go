package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Column names of the CSSE time-series files.
const (
	ColumnSubRegion = "Province/State"
	ColumnRegion    = "Country/Region"
	ColumnLat       = "Lat"
	ColumnLong      = "Long"
)

// Header is the ordered column list shared by every row of a table.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader builds a header from column names in source order. When a name
// repeats, lookups resolve to its first position.
func NewHeader(names []string) *Header {
	h := &Header{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		if _, ok := h.index[n]; !ok {
			h.index[n] = i
		}
	}
	return h
}

// Names returns the column names in source order.
func (h *Header) Names() []string { return h.names }

// Row is one line of a CSV source: column name to raw string value, in
// header order. A row shorter than its header lacks the trailing columns.
type Row struct {
	header *Header
	values []string
}

// NewRow pairs values with a header.
func NewRow(h *Header, values []string) Row {
	return Row{header: h, values: values}
}

// Get returns the raw value of a column and whether the row has it.
func (r Row) Get(column string) (string, bool) {
	if r.header == nil {
		return "", false
	}
	i, ok := r.header.index[column]
	if !ok || i >= len(r.values) {
		return "", false
	}
	return r.values[i], true
}

// Value returns the raw value of a column, or "" when absent.
func (r Row) Value(column string) string {
	v, _ := r.Get(column)
	return v
}

// Columns returns the column names present in the row, in source order.
func (r Row) Columns() []string {
	if r.header == nil {
		return nil
	}
	n := len(r.header.names)
	if len(r.values) < n {
		n = len(r.values)
	}
	return r.header.names[:n]
}

// Key returns the (Country/Region, Province/State) join key of the row.
func (r Row) Key() JoinKey {
	return JoinKey{Region: r.Value(ColumnRegion), SubRegion: r.Value(ColumnSubRegion)}
}

// Table is a parsed CSV source.
type Table struct {
	Header *Header
	Rows   []Row
}

// ParseTable parses CSV text with a header line into a Table. Rows may be
// ragged; missing trailing fields are treated as absent columns.
func ParseTable(text string) (Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	names, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{Header: NewHeader(nil)}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("parse csv header: %w", err)
	}
	if len(names) > 0 {
		names[0] = strings.TrimPrefix(names[0], "\ufeff")
	}
	h := NewHeader(names)

	var rows []Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("parse csv row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, NewRow(h, rec))
	}
	return Table{Header: h, Rows: rows}, nil
}
