package cli

import (
	"fmt"

	"github.com/couchcryptid/covid-data-etl/internal/config"
	"github.com/couchcryptid/covid-data-etl/internal/domain"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
)

// pipelineOptions translates validated configuration into Runner options.
func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	mode, err := domain.ParseKeyMode(cfg.KeyMode)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("KEY_MODE: %w", err)
	}
	return pipeline.Options{
		Variant: pipeline.Variant(cfg.Variant),
		Sources: pipeline.Sources{
			Confirmed: cfg.ConfirmedURL,
			Deaths:    cfg.DeathsURL,
			Recovered: cfg.RecoveredURL,
			Lookup:    cfg.LookupURL,
		},
		Keys:          domain.KeyScheme{Mode: mode, Prefix: cfg.KeyPrefix},
		RowErrors:     pipeline.RowErrorPolicy(cfg.RowErrorPolicy),
		StoreFailures: pipeline.StoreFailurePolicy(cfg.StoreFailurePolicy),
	}, nil
}
