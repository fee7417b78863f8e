package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/covid-data-etl/internal/adapter/fetch"
	httpadapter "github.com/couchcryptid/covid-data-etl/internal/adapter/http"
	"github.com/couchcryptid/covid-data-etl/internal/config"
	"github.com/couchcryptid/covid-data-etl/internal/observability"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
	"github.com/couchcryptid/covid-data-etl/internal/storage"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, transform and store every region once",
		Long: `Run one full batch: fetch the configured sources, reshape and join every
row, and write one document per region to the configured store.

The published confirmed file has rows without coordinates (for example
"Repatriated Travellers, Canada"). With the default ROW_ERROR_POLICY=abort the
first such row ends the run; set ROW_ERROR_POLICY=skip to log and count them
instead.

Example:
  STORE_DRIVER=fs FS_ROOT=./out covid-etl run
  VARIANT=single KEY_MODE=partitioned KEY_PREFIX=partitioned covid-etl run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd)
		},
	}
}

func runBatch(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts, err := pipelineOptions(cfg)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetricsFor(reg)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	fetcher := fetch.NewClient(cfg.FetchTimeout, logger)
	runner := pipeline.New(fetcher, store, opts, logger, metrics, clockwork.NewRealClock())

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, runner, reg, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	summary, runErr := runner.Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := observability.Push(pushCtx, cfg.PushgatewayURL, cfg.PushgatewayJob, reg); err != nil {
			logger.Error("metrics push failed", "error", err)
		} else {
			logger.Info("metrics pushed", "url", cfg.PushgatewayURL, "job", cfg.PushgatewayJob)
		}
	}

	if runErr != nil {
		return runErr
	}
	for _, c := range summary.Categories {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\trows=%d written=%d store_failures=%d row_errors=%d missing=%d\n",
			c.Category, c.Rows, c.Written, c.StoreFailures, c.RowErrors, c.Missing)
	}
	return nil
}
