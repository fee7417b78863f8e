// Package storage selects and constructs the document store named by
// STORE_DRIVER.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/covid-data-etl/internal/adapter/filesystem"
	kafkaadapter "github.com/couchcryptid/covid-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/covid-data-etl/internal/adapter/memory"
	s3adapter "github.com/couchcryptid/covid-data-etl/internal/adapter/s3"
	"github.com/couchcryptid/covid-data-etl/internal/adapter/sqlstore"
	"github.com/couchcryptid/covid-data-etl/internal/config"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
)

// Handle is an opened store plus its release function.
type Handle struct {
	pipeline.Store
	Driver string
	close  func() error
}

// Close releases any connection held by the store.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open builds the store for cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Handle, error) {
	logger = logger.With("driver", cfg.StoreDriver)

	switch cfg.StoreDriver {
	case config.DriverS3:
		s, err := s3adapter.New(ctx, s3adapter.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		logger.Info("store opened", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		return &Handle{Store: s, Driver: cfg.StoreDriver}, nil

	case config.DriverFS:
		s, err := filesystem.New(cfg.FSRoot, logger)
		if err != nil {
			return nil, fmt.Errorf("open fs store: %w", err)
		}
		logger.Info("store opened", "root", cfg.FSRoot)
		return &Handle{Store: s, Driver: cfg.StoreDriver}, nil

	case config.DriverMemory:
		logger.Info("store opened")
		return &Handle{Store: memory.New(), Driver: cfg.StoreDriver}, nil

	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.StoreDriver), cfg.DatabaseDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		logger.Info("store opened")
		return &Handle{Store: s, Driver: cfg.StoreDriver, close: s.Close}, nil

	case config.DriverKafka:
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("store opened", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return &Handle{Store: w, Driver: cfg.StoreDriver, close: w.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
