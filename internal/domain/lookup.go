package domain

import (
	"bytes"
	"fmt"

	"github.com/jszwec/csvutil"
)

// DatasetLookup names the country lookup table in diagnostics and metrics.
const DatasetLookup = "lookup"

// CountryRow is the subset of UID_ISO_FIPS_LookUp_Table.csv the pipeline uses.
// Other columns (UID, iso3, FIPS, Admin2, Population, ...) are ignored.
type CountryRow struct {
	CountryRegion string `csv:"Country_Region"`
	ISO2          string `csv:"iso2"`
}

// CountryIndex maps Country_Region to the iso2 code of its first row in the
// lookup table. The table lists every province and county of a country; the
// country-level row comes first.
type CountryIndex struct {
	iso2 map[string]string
}

// ParseCountryTable decodes the lookup CSV and indexes it by Country_Region.
func ParseCountryTable(text string) (*CountryIndex, error) {
	data := bytes.TrimPrefix([]byte(text), []byte("\ufeff"))
	var rows []CountryRow
	if len(bytes.TrimSpace(data)) > 0 {
		if err := csvutil.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode country lookup: %w", err)
		}
	}
	return NewCountryIndex(rows), nil
}

// NewCountryIndex indexes lookup rows, keeping the first row per country.
func NewCountryIndex(rows []CountryRow) *CountryIndex {
	idx := &CountryIndex{iso2: make(map[string]string, len(rows))}
	for _, r := range rows {
		if _, seen := idx.iso2[r.CountryRegion]; seen {
			continue
		}
		idx.iso2[r.CountryRegion] = r.ISO2
	}
	return idx
}

// Lookup returns the iso2 code for a country.
func (c *CountryIndex) Lookup(region string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.iso2[region]
	return v, ok
}

// Len returns the number of distinct countries.
func (c *CountryIndex) Len() int {
	if c == nil {
		return 0
	}
	return len(c.iso2)
}
