package domain

import (
	"bytes"
	"fmt"
	"regexp"
	"time"
)

// dateColumnRe matches CSSE date headers: 1-2 digit month, 1-2 digit day,
// exactly 2 digit year, e.g. "3/14/20".
var dateColumnRe = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2}$`)

const dateColumnLayout = "1/2/06"

// IsDateColumn reports whether a header has the shape of a date column.
// It does not check that the date exists; see ParseDateColumn.
func IsDateColumn(header string) bool {
	return dateColumnRe.MatchString(header)
}

// ParseDateColumn parses a date-shaped header as month/day/two-digit-year.
// Two-digit years 69-99 map to 19xx and 00-68 to 20xx.
func ParseDateColumn(header string) (Day, error) {
	if !IsDateColumn(header) {
		return Day{}, &FormatError{Column: header, Value: header, Err: fmt.Errorf("not a M/D/YY date header")}
	}
	t, err := time.Parse(dateColumnLayout, header)
	if err != nil {
		return Day{}, &FormatError{Column: header, Value: header, Err: err}
	}
	return Day{t}, nil
}

// Day is a calendar date serialized as YYYY-MM-DD.
type Day struct {
	time.Time
}

// NewDay returns the Day for the given calendar date in UTC.
func NewDay(year int, month time.Month, day int) Day {
	return Day{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Day) String() string {
	return d.Format(time.DateOnly)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(data []byte) error {
	t, err := time.Parse(time.DateOnly, string(bytes.Trim(data, `"`)))
	if err != nil {
		return fmt.Errorf("parse day: %w", err)
	}
	d.Time = t
	return nil
}
