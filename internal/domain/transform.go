package domain

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Counterparts holds the rows of the secondary datasets matched to a primary
// row. A nil row means the dataset had no match.
type Counterparts struct {
	Deaths    *Row
	Recovered *Row
}

// Reshape converts one wide primary row into a Record.
//
// With cp == nil the single-dataset layout is used and each sample carries
// only a value. Otherwise each sample carries confirmed (from the primary
// row), deaths and recovered (from the counterparts, 0 when absent or
// unreadable).
//
// A primary value that is not an integer, a date-shaped header that is not a
// calendar date, or a non-numeric or non-finite Lat/Long yields a
// *FormatError.
func Reshape(primary Row, cp *Counterparts) (Record, error) {
	rec := Record{
		Region:    primary.Value(ColumnRegion),
		SubRegion: primary.Value(ColumnSubRegion),
	}

	for _, col := range primary.Columns() {
		raw := primary.Value(col)

		switch {
		case IsDateColumn(col):
			day, err := ParseDateColumn(col)
			if err != nil {
				return Record{}, err
			}
			n, err := parseCount(col, raw)
			if err != nil {
				return Record{}, err
			}
			sample := DateSample{Date: day}
			if cp == nil {
				sample.Value = &n
			} else {
				deaths := counterpartCount(cp.Deaths, col)
				recovered := counterpartCount(cp.Recovered, col)
				sample.Confirmed = &n
				sample.Deaths = &deaths
				sample.Recovered = &recovered
			}
			rec.TimeSeries = append(rec.TimeSeries, sample)

		case col == ColumnLat || col == ColumnLong:
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return Record{}, &FormatError{Column: col, Value: raw, Err: err}
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return Record{}, &FormatError{Column: col, Value: raw, Err: errNotFinite}
			}
			rec.Fields = append(rec.Fields, Field{Name: strings.ToLower(col), Value: f})

		default:
			rec.Fields = append(rec.Fields, Field{Name: strings.ToLower(col), Value: raw})
		}
	}

	return rec, nil
}

var errNotFinite = errors.New("coordinate is not a finite number")

// parseCount parses a primary metric value. Surrounding whitespace and a
// leading sign are accepted; anything else is a *FormatError.
func parseCount(col, raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &FormatError{Column: col, Value: raw, Err: err}
	}
	return n, nil
}

// counterpartCount reads a counterpart metric, treating a missing row, a
// missing column or an unparseable value as 0.
func counterpartCount(row *Row, col string) int64 {
	if row == nil {
		return 0
	}
	raw, ok := row.Get(col)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
