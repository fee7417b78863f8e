package pipeline

import (
	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

// RowTransformer implements the per-row transform: join (joined variant only)
// followed by reshape.
type RowTransformer struct {
	joiner *domain.Joiner
}

// NewTransformer creates a RowTransformer. Pass a nil joiner for the
// single-dataset layout.
func NewTransformer(joiner *domain.Joiner) *RowTransformer {
	return &RowTransformer{joiner: joiner}
}

// Transform builds the record for one primary row. Diagnostics describe
// missing counterparts and are returned even when err is nil.
func (t *RowTransformer) Transform(row domain.Row) (domain.Record, []domain.Diagnostic, error) {
	if t.joiner == nil {
		rec, err := domain.Reshape(row, nil)
		return rec, nil, err
	}

	m := t.joiner.Match(row)
	rec, err := domain.Reshape(row, &m.Counterparts)
	if err != nil {
		return domain.Record{}, m.Diagnostics, err
	}
	return m.Enrich(rec), m.Diagnostics, nil
}
