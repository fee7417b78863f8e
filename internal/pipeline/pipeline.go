package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
	"github.com/couchcryptid/covid-data-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Fetcher retrieves the text of a source CSV.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Store persists one JSON document under a key, overwriting any previous
// document with the same key.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Variant selects which datasets a run reads and how records are laid out.
type Variant string

const (
	// VariantJoined merges confirmed, deaths and recovered into one record per region.
	VariantJoined Variant = "joined"
	// VariantSingle stores each dataset separately with a plain value series.
	VariantSingle Variant = "single"
)

// RowErrorPolicy decides what a row that fails to reshape does to the run.
type RowErrorPolicy string

const (
	RowErrorAbort RowErrorPolicy = "abort"
	RowErrorSkip  RowErrorPolicy = "skip"
)

// StoreFailurePolicy decides what a rejected document does to the run.
type StoreFailurePolicy string

const (
	StoreFailureContinue StoreFailurePolicy = "continue"
	StoreFailureAbort    StoreFailurePolicy = "abort"
)

// Sources holds the URLs (or local paths) of the input CSVs.
type Sources struct {
	Confirmed string
	Deaths    string
	Recovered string
	Lookup    string
}

// Options configures a Runner.
type Options struct {
	Variant       Variant
	Sources       Sources
	Keys          domain.KeyScheme
	RowErrors     RowErrorPolicy
	StoreFailures StoreFailurePolicy
}

// CategoryStats counts what happened to the rows of one category.
type CategoryStats struct {
	Category      string `json:"category"`
	Rows          int    `json:"rows"`
	Written       int    `json:"written"`
	StoreFailures int    `json:"store_failures"`
	RowErrors     int    `json:"row_errors"`
	Missing       int    `json:"missing_counterparts"`
}

// Summary is the outcome of a run, one entry per category in processing order.
type Summary struct {
	Categories []CategoryStats
}

// Written returns the number of documents stored across all categories.
func (s Summary) Written() int {
	n := 0
	for _, c := range s.Categories {
		n += c.Written
	}
	return n
}

// Status is a snapshot of the Runner for the /status endpoint.
type Status struct {
	Running    bool            `json:"running"`
	Ready      bool            `json:"ready"`
	Variant    Variant         `json:"variant"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Categories []CategoryStats `json:"categories"`
}

// Runner orchestrates one fetch-transform-store batch.
type Runner struct {
	fetcher Fetcher
	store   Store
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates a Runner. A nil clock uses real time.
func New(f Fetcher, s Store, opts Options, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Variant == "" {
		opts.Variant = VariantJoined
	}
	if opts.RowErrors == "" {
		opts.RowErrors = RowErrorAbort
	}
	if opts.StoreFailures == "" {
		opts.StoreFailures = StoreFailureContinue
	}
	return &Runner{
		fetcher: f,
		store:   s,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		status:  Status{Variant: opts.Variant, Categories: []CategoryStats{}},
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// Status returns a copy of the current run status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	st.Ready = r.ready.Load()
	st.Categories = append([]CategoryStats{}, r.status.Categories...)
	return st
}

func (r *Runner) setStatus(fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

// Run executes the batch to completion. Fetch errors always end the run;
// row and store errors end it according to the configured policies.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	run := r.runJoined
	switch r.opts.Variant {
	case VariantJoined:
	case VariantSingle:
		run = r.runSingle
	default:
		return Summary{}, fmt.Errorf("unknown variant %q", r.opts.Variant)
	}

	start := r.clock.Now()
	r.logger.Info("run started",
		"variant", r.opts.Variant,
		"key_mode", r.opts.Keys.Mode,
		"row_error_policy", r.opts.RowErrors,
		"store_failure_policy", r.opts.StoreFailures,
	)
	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)
	r.setStatus(func(st *Status) {
		st.Running = true
		st.StartedAt = &start
		st.FinishedAt = nil
		st.LastError = ""
		st.Categories = []CategoryStats{}
	})

	summary, err := run(ctx)

	elapsed := r.clock.Since(start)
	finished := r.clock.Now()
	r.setStatus(func(st *Status) {
		st.Running = false
		st.FinishedAt = &finished
		st.Categories = append([]CategoryStats{}, summary.Categories...)
		if err != nil {
			st.LastError = err.Error()
		}
	})
	if err != nil {
		r.logger.Error("run failed", "error", err, "duration", elapsed)
		return summary, err
	}

	r.metrics.RunDuration.Observe(elapsed.Seconds())
	r.metrics.LastSuccess.Set(float64(finished.Unix()))
	r.ready.Store(true)
	r.logger.Info("run completed", "records", summary.Written(), "duration", elapsed)
	return summary, nil
}

func (r *Runner) runJoined(ctx context.Context) (Summary, error) {
	lookupText, err := r.fetch(ctx, domain.DatasetLookup, r.opts.Sources.Lookup)
	if err != nil {
		return Summary{}, err
	}
	countries, err := domain.ParseCountryTable(lookupText)
	if err != nil {
		return Summary{}, fmt.Errorf("parse %s source: %w", domain.DatasetLookup, err)
	}

	confirmed, err := r.fetchTable(ctx, domain.CategoryConfirmed, r.opts.Sources.Confirmed)
	if err != nil {
		return Summary{}, err
	}
	deaths, err := r.fetchTable(ctx, domain.CategoryDeaths, r.opts.Sources.Deaths)
	if err != nil {
		return Summary{}, err
	}
	recovered, err := r.fetchTable(ctx, domain.CategoryRecovered, r.opts.Sources.Recovered)
	if err != nil {
		return Summary{}, err
	}

	deathsIdx := domain.NewIndex(deaths)
	recoveredIdx := domain.NewIndex(recovered)
	r.logger.Info("sources indexed",
		"confirmed_rows", len(confirmed.Rows),
		"deaths_keys", deathsIdx.Len(),
		"recovered_keys", recoveredIdx.Len(),
		"countries", countries.Len(),
	)

	t := NewTransformer(domain.NewJoiner(deathsIdx, recoveredIdx, countries))
	stats, err := r.process(ctx, domain.CategoryCombined, confirmed, t)
	summary := Summary{Categories: []CategoryStats{stats}}
	return summary, err
}

func (r *Runner) runSingle(ctx context.Context) (Summary, error) {
	sources := []struct {
		category string
		url      string
	}{
		{domain.CategoryConfirmed, r.opts.Sources.Confirmed},
		{domain.CategoryDeaths, r.opts.Sources.Deaths},
		{domain.CategoryRecovered, r.opts.Sources.Recovered},
	}

	var summary Summary
	t := NewTransformer(nil)
	for _, src := range sources {
		r.logger.Info("category started", "category", src.category)
		table, err := r.fetchTable(ctx, src.category, src.url)
		if err != nil {
			return summary, err
		}
		stats, err := r.process(ctx, src.category, table, t)
		summary.Categories = append(summary.Categories, stats)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// process transforms and stores every row of a primary table.
func (r *Runner) process(ctx context.Context, category string, table domain.Table, t *RowTransformer) (CategoryStats, error) {
	stats := CategoryStats{Category: category}

	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Rows++
		r.metrics.RowsRead.WithLabelValues(category).Inc()

		rec, diags, err := t.Transform(row)
		for _, d := range diags {
			stats.Missing++
			r.metrics.MissingMatches.WithLabelValues(d.Dataset).Inc()
			r.logger.Info(d.Message,
				"dataset", d.Dataset,
				"region", d.Key.Region,
				"sub_region", d.Key.SubRegion,
			)
		}
		if err != nil {
			if abortErr := r.rowFailed(category, i, row, err, &stats); abortErr != nil {
				return stats, abortErr
			}
			continue
		}

		body, err := domain.SerializeRecord(rec)
		if err != nil {
			if abortErr := r.rowFailed(category, i, row, err, &stats); abortErr != nil {
				return stats, abortErr
			}
			continue
		}

		if err := r.put(ctx, category, rec, body, &stats); err != nil {
			return stats, err
		}
	}

	r.logger.Info("category complete",
		"category", category,
		"rows", stats.Rows,
		"written", stats.Written,
		"store_failures", stats.StoreFailures,
		"row_errors", stats.RowErrors,
		"missing_counterparts", stats.Missing,
	)
	return stats, nil
}

// rowFailed records a row that could not be transformed and returns a
// non-nil error when the row error policy says to stop.
func (r *Runner) rowFailed(category string, i int, row domain.Row, err error, stats *CategoryStats) error {
	stats.RowErrors++
	r.metrics.RowErrors.WithLabelValues(category).Inc()

	key := row.Key()
	if r.opts.RowErrors == RowErrorAbort {
		return fmt.Errorf("%s row %d (%s/%s): %w", category, i+1, key.Region, key.SubRegion, err)
	}
	r.logger.Warn("transform failed, skipping row",
		"category", category,
		"row", i+1,
		"region", key.Region,
		"sub_region", key.SubRegion,
		"error", err,
	)
	return nil
}

// put stores one serialized record. It returns an error only when the run
// must stop.
func (r *Runner) put(ctx context.Context, category string, rec domain.Record, body []byte, stats *CategoryStats) error {
	key := r.opts.Keys.Key(category, rec.Region, rec.SubRegion)

	if err := r.store.Put(ctx, key, body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *domain.StoreError
		if !errors.As(err, &se) {
			se = &domain.StoreError{Key: key, Err: err}
		}
		stats.StoreFailures++
		r.metrics.StoreFailures.WithLabelValues(category).Inc()
		r.logger.Error("store failed",
			"category", category,
			"key", key,
			"driver", se.Driver,
			"status", se.StatusCode,
			"request_id", se.RequestID,
			"bytes", len(body),
			"error", err,
		)
		if r.opts.StoreFailures == StoreFailureAbort {
			return se
		}
		return nil
	}

	stats.Written++
	r.metrics.RecordsWritten.WithLabelValues(category).Inc()
	r.logger.Debug("stored", "category", category, "key", key, "bytes", len(body))
	return nil
}

func (r *Runner) fetch(ctx context.Context, source, url string) (string, error) {
	start := r.clock.Now()
	r.logger.Info("fetch", "source", source, "url", url)
	text, err := r.fetcher.Fetch(ctx, url)
	r.metrics.FetchDuration.WithLabelValues(source).Observe(r.clock.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("fetch %s source: %w", source, err)
	}
	return text, nil
}

func (r *Runner) fetchTable(ctx context.Context, source, url string) (domain.Table, error) {
	text, err := r.fetch(ctx, source, url)
	if err != nil {
		return domain.Table{}, err
	}
	table, err := domain.ParseTable(text)
	if err != nil {
		return domain.Table{}, fmt.Errorf("parse %s source: %w", source, err)
	}
	return table, nil
}
