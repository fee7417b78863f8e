// Package s3 stores region documents as objects in an S3-compatible bucket
// (AWS S3 or MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

const (
	driverName  = "s3"
	contentType = "application/json"
)

// Config holds construction parameters. Credentials come from the default
// AWS chain (environment, shared config, instance role).
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool
}

// Store implements pipeline.Store. Each Put overwrites the object at key.
type Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// New creates an S3 store from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket string, logger *slog.Logger) *Store {
	return &Store{client: client, bucket: bucket, logger: logger}
}

// Put uploads body as a JSON object, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return storeError(key, err)
	}
	s.logger.Debug("put object", "bucket", s.bucket, "key", key, "bytes", len(body))
	return nil
}

// responseError is satisfied by the SDK's HTTP response errors, including
// the S3-specific wrapper that also carries a host id.
type responseError interface {
	error
	HTTPStatusCode() int
	ServiceRequestID() string
}

// storeError attaches the HTTP status and request id the SDK reports.
func storeError(key string, err error) *domain.StoreError {
	se := &domain.StoreError{Key: key, Driver: driverName, Err: err}
	var re responseError
	if errors.As(err, &re) {
		se.StatusCode = re.HTTPStatusCode()
		se.RequestID = re.ServiceRequestID()
	}
	return se
}
