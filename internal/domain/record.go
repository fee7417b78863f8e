package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Category names used in object keys and metrics.
const (
	CategoryConfirmed = "confirmed"
	CategoryDeaths    = "deaths"
	CategoryRecovered = "recovered"
	CategoryCombined  = "combined"
)

// Field is one scalar column of a record, with its lower-cased name and a
// string or float64 value.
type Field struct {
	Name  string
	Value any
}

// DateSample is one observation date of a time series. The single-dataset
// layout sets Value; the joined layout sets Confirmed, Deaths and Recovered.
type DateSample struct {
	Date      Day    `json:"date"`
	Value     *int64 `json:"value,omitempty"`
	Confirmed *int64 `json:"confirmed,omitempty"`
	Deaths    *int64 `json:"deaths,omitempty"`
	Recovered *int64 `json:"recovered,omitempty"`
}

// Record is the normalized form of one region's time series.
type Record struct {
	Region     string
	SubRegion  string
	Fields     []Field
	ISO2       *string // nil when the lookup table has no match
	TimeSeries []DateSample
}

// Lat returns the parsed latitude, if the source had one.
func (r Record) Lat() (float64, bool) { return r.float("lat") }

// Long returns the parsed longitude, if the source had one.
func (r Record) Long() (float64, bool) { return r.float("long") }

func (r Record) float(name string) (float64, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			v, ok := f.Value.(float64)
			return v, ok
		}
	}
	return 0, false
}

// MarshalJSON writes scalar fields in source column order, then iso2 (when
// set), then time_series, so identical input always yields identical bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range r.Fields {
		if err := writeMember(&buf, f.Name, f.Value); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if r.ISO2 != nil {
		if err := writeMember(&buf, "iso2", *r.ISO2); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	series := r.TimeSeries
	if series == nil {
		series = []DateSample{}
	}
	if err := writeMember(&buf, "time_series", series); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, name string, value any) error {
	k, err := json.Marshal(name)
	if err != nil {
		return fmt.Errorf("marshal field name %q: %w", name, err)
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field %q: %w", name, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// SerializeRecord renders a record as the JSON document that gets stored.
func SerializeRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("serialize record %s/%s: %w", r.Region, r.SubRegion, err)
	}
	return data, nil
}
