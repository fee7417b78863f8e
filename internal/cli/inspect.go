package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/covid-data-etl/internal/adapter/fetch"
	"github.com/couchcryptid/covid-data-etl/internal/domain"
	"github.com/couchcryptid/covid-data-etl/internal/observability"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	Confirmed  string
	Deaths     string
	Recovered  string
	Lookup     string
	Variant    string
	KeyMode    string
	KeyPrefix  string
	SkipErrors bool
	Verbose    bool
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Transform local CSV files and print the documents instead of storing them",
		Long: `Run the transform against local files (or URLs) and print one
"<key>\t<json>" line per document to stdout. Counterpart files that are not
given are treated as empty tables.

Example:
  covid-etl inspect --confirmed confirmed.csv --deaths deaths.csv --lookup lookup.csv
  covid-etl inspect --variant single --key-mode partitioned --confirmed confirmed.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Confirmed, "confirmed", "", "confirmed time-series CSV (required)")
	cmd.Flags().StringVar(&opts.Deaths, "deaths", "", "deaths time-series CSV")
	cmd.Flags().StringVar(&opts.Recovered, "recovered", "", "recovered time-series CSV")
	cmd.Flags().StringVar(&opts.Lookup, "lookup", "", "UID/ISO/FIPS lookup CSV")
	cmd.Flags().StringVar(&opts.Variant, "variant", string(pipeline.VariantJoined), "joined|single")
	cmd.Flags().StringVar(&opts.KeyMode, "key-mode", string(domain.KeyModeFlat), "flat|partitioned|category")
	cmd.Flags().StringVar(&opts.KeyPrefix, "key-prefix", "", "prefix for every key")
	cmd.Flags().BoolVar(&opts.SkipErrors, "skip-errors", false, "skip rows that fail to transform")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log diagnostics to stderr")
	_ = cmd.MarkFlagRequired("confirmed")

	return cmd
}

func runInspect(cmd *cobra.Command, opts *InspectOptions) error {
	variant := pipeline.Variant(opts.Variant)
	if variant != pipeline.VariantJoined && variant != pipeline.VariantSingle {
		return fmt.Errorf("invalid variant %q: must be joined or single", opts.Variant)
	}
	mode, err := domain.ParseKeyMode(opts.KeyMode)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	rowErrors := pipeline.RowErrorAbort
	if opts.SkipErrors {
		rowErrors = pipeline.RowErrorSkip
	}

	runner := pipeline.New(
		optionalSources{fetch.NewClient(0, logger)},
		&printStore{w: cmd.OutOrStdout()},
		pipeline.Options{
			Variant: variant,
			Sources: pipeline.Sources{
				Confirmed: opts.Confirmed,
				Deaths:    opts.Deaths,
				Recovered: opts.Recovered,
				Lookup:    opts.Lookup,
			},
			Keys:      domain.KeyScheme{Mode: mode, Prefix: opts.KeyPrefix},
			RowErrors: rowErrors,
		},
		logger,
		observability.NewMetricsFor(prometheus.NewRegistry()),
		clockwork.NewRealClock(),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	_, err = runner.Run(ctx)
	var fe *domain.FormatError
	if !opts.SkipErrors && errors.As(err, &fe) {
		return fmt.Errorf("%w (rerun with --skip-errors to skip such rows)", err)
	}
	return err
}

// optionalSources treats an empty source as an empty table.
type optionalSources struct {
	pipeline.Fetcher
}

func (o optionalSources) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}
	return o.Fetcher.Fetch(ctx, url)
}

// printStore writes each document as a "<key>\t<json>" line.
type printStore struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printStore) Put(_ context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "%s\t%s\n", key, body); err != nil {
		return &domain.StoreError{Key: key, Driver: "stdout", Err: err}
	}
	return nil
}
