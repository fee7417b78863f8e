package domain

// JoinKey is the composite (Country/Region, Province/State) key shared by
// the three time-series datasets.
type JoinKey struct {
	Region    string
	SubRegion string
}

// Index maps join keys to rows. Only the first row seen for a key is kept,
// so lookups behave like a front-to-back scan that stops at the first match.
type Index struct {
	rows map[JoinKey]Row
}

// NewIndex indexes a table by join key.
func NewIndex(t Table) *Index {
	idx := &Index{rows: make(map[JoinKey]Row, len(t.Rows))}
	for _, row := range t.Rows {
		k := row.Key()
		if _, seen := idx.rows[k]; seen {
			continue
		}
		idx.rows[k] = row
	}
	return idx
}

// Lookup returns the first row with the given key.
func (i *Index) Lookup(k JoinKey) (*Row, bool) {
	if i == nil {
		return nil, false
	}
	row, ok := i.rows[k]
	if !ok {
		return nil, false
	}
	return &row, true
}

// Len returns the number of distinct keys.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.rows)
}

// DiagnosticKind classifies a join diagnostic.
type DiagnosticKind string

// MissingCounterpart is reported when a counterpart or lookup row is absent.
// It is not an error: the record is still built and stored.
const MissingCounterpart DiagnosticKind = "missing_counterpart"

// Diagnostic describes a join that found no match.
type Diagnostic struct {
	Kind    DiagnosticKind
	Dataset string // "deaths", "recovered" or "lookup"
	Key     JoinKey
	Message string
}

// Match is the result of joining one primary row.
type Match struct {
	Counterparts Counterparts
	ISO2         *string
	Diagnostics  []Diagnostic
}

// Joiner matches primary rows against the deaths, recovered and country
// lookup datasets.
type Joiner struct {
	deaths    *Index
	recovered *Index
	countries *CountryIndex
}

// NewJoiner creates a Joiner. Any index may be nil, in which case every
// lookup against it misses.
func NewJoiner(deaths, recovered *Index, countries *CountryIndex) *Joiner {
	return &Joiner{deaths: deaths, recovered: recovered, countries: countries}
}

// Match finds the counterparts and iso2 code of a primary row.
//
// The recovered lookup is nested under the deaths lookup: when there is no
// deaths row, recovered is reported absent without being looked up. The
// country lookup is independent and keyed on the region alone.
func (j *Joiner) Match(primary Row) Match {
	key := primary.Key()
	var m Match

	if deaths, ok := j.deaths.Lookup(key); ok {
		m.Counterparts.Deaths = deaths
		if recovered, ok := j.recovered.Lookup(key); ok {
			m.Counterparts.Recovered = recovered
		} else {
			m.Diagnostics = append(m.Diagnostics, Diagnostic{
				Kind: MissingCounterpart, Dataset: CategoryRecovered, Key: key,
				Message: "no recovered",
			})
		}
	} else {
		m.Diagnostics = append(m.Diagnostics, Diagnostic{
			Kind: MissingCounterpart, Dataset: CategoryDeaths, Key: key,
			Message: "no deaths",
		})
	}

	if iso2, ok := j.countries.Lookup(key.Region); ok {
		m.ISO2 = &iso2
	} else {
		m.Diagnostics = append(m.Diagnostics, Diagnostic{
			Kind: MissingCounterpart, Dataset: DatasetLookup, Key: key,
			Message: "no country lookup",
		})
	}

	return m
}

// Enrich applies a match to a reshaped record.
func (m Match) Enrich(rec Record) Record {
	rec.ISO2 = m.ISO2
	return rec
}
