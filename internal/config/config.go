package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default CSSE source locations.
const (
	csseBase = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/"

	DefaultConfirmedURL = csseBase + "csse_covid_19_time_series/time_series_covid19_confirmed_global.csv"
	DefaultDeathsURL    = csseBase + "csse_covid_19_time_series/time_series_covid19_deaths_global.csv"
	DefaultRecoveredURL = csseBase + "csse_covid_19_time_series/time_series_covid19_recovered_global.csv"
	DefaultLookupURL    = csseBase + "UID_ISO_FIPS_LookUp_Table.csv"
)

// Store drivers.
const (
	DriverS3       = "s3"
	DriverFS       = "fs"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverKafka    = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Variant   string
	KeyMode   string
	KeyPrefix string

	ConfirmedURL string
	DeathsURL    string
	RecoveredURL string
	LookupURL    string
	FetchTimeout time.Duration

	StoreDriver string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	FSRoot      string
	DatabaseDSN string

	KafkaBrokers []string
	KafkaTopic   string

	RowErrorPolicy     string
	StoreFailurePolicy string

	HTTPAddr        string
	PushgatewayURL  string
	PushgatewayJob  string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file (ENV_FILE, default ".env") is read first if present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	envFile := envOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load ENV_FILE %s: %w", envFile, err)
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	pathStyle, err := parseBool("S3_PATH_STYLE", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Variant:   strings.ToLower(envOrDefault("VARIANT", "joined")),
		KeyMode:   strings.ToLower(envOrDefault("KEY_MODE", "flat")),
		KeyPrefix: os.Getenv("KEY_PREFIX"),

		ConfirmedURL: envOrDefault("SOURCE_CONFIRMED_URL", DefaultConfirmedURL),
		DeathsURL:    envOrDefault("SOURCE_DEATHS_URL", DefaultDeathsURL),
		RecoveredURL: envOrDefault("SOURCE_RECOVERED_URL", DefaultRecoveredURL),
		LookupURL:    envOrDefault("SOURCE_LOOKUP_URL", DefaultLookupURL),
		FetchTimeout: fetchTimeout,

		StoreDriver: strings.ToLower(envOrDefault("STORE_DRIVER", DriverS3)),

		S3Bucket:    envOrDefault("S3_BUCKET", "data-covid-19"),
		S3Region:    envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3PathStyle: pathStyle,

		FSRoot:      envOrDefault("FS_ROOT", "./data/output"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "covid-timeseries"),

		RowErrorPolicy:     strings.ToLower(envOrDefault("ROW_ERROR_POLICY", "abort")),
		StoreFailurePolicy: strings.ToLower(envOrDefault("STORE_FAILURE_POLICY", "continue")),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
		PushgatewayJob:  envOrDefault("PUSHGATEWAY_JOB", "covid-etl"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Variant {
	case "joined", "single":
	default:
		return fmt.Errorf("invalid VARIANT %q", c.Variant)
	}
	switch c.KeyMode {
	case "flat", "partitioned", "category":
	default:
		return fmt.Errorf("invalid KEY_MODE %q", c.KeyMode)
	}
	switch c.RowErrorPolicy {
	case "abort", "skip":
	default:
		return fmt.Errorf("invalid ROW_ERROR_POLICY %q", c.RowErrorPolicy)
	}
	switch c.StoreFailurePolicy {
	case "continue", "abort":
	default:
		return fmt.Errorf("invalid STORE_FAILURE_POLICY %q", c.StoreFailurePolicy)
	}

	switch c.StoreDriver {
	case DriverS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required")
		}
	case DriverFS:
		if c.FSRoot == "" {
			return errors.New("FS_ROOT is required")
		}
	case DriverMemory:
	case DriverSQLite:
		if c.DatabaseDSN == "" {
			c.DatabaseDSN = "covid.db"
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres driver")
		}
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}

	if c.ConfirmedURL == "" {
		return errors.New("SOURCE_CONFIRMED_URL is required")
	}
	if c.Variant == "joined" && c.LookupURL == "" {
		return errors.New("SOURCE_LOOKUP_URL is required")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
