// Package sqlstore keeps region documents in a single SQL table keyed by
// object key. SQLite (modernc.org/sqlite) and Postgres (pgx) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

// Dialect names the SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// body is TEXT rather than JSONB so stored bytes match the serialized record.
const ddl = `CREATE TABLE IF NOT EXISTS documents (
	object_key TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store implements pipeline.Store on a SQL table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	upsert  string
	logger  *slog.Logger
}

// Open connects to the database and ensures the documents table exists.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
		if dsn == "" {
			dsn = "covid.db"
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	case Postgres:
		driver = "pgx"
		if dsn == "" {
			return nil, errors.New("postgres dsn required")
		}
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// A single connection serializes writers and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return New(db, dialect, logger), nil
}

// New wraps an open database whose documents table already exists.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	return &Store{db: db, dialect: dialect, upsert: upsertSQL(dialect), logger: logger}
}

func upsertSQL(d Dialect) string {
	if d == Postgres {
		return `INSERT INTO documents(object_key, body, updated_at) VALUES($1, $2, CURRENT_TIMESTAMP)
			ON CONFLICT(object_key) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`
	}
	return `INSERT INTO documents(object_key, body, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(object_key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
}

// Put inserts or replaces the document at key.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, string(body)); err != nil {
		return &domain.StoreError{Key: key, Driver: string(s.dialect), Err: err}
	}
	s.logger.Debug("upserted document", "dialect", s.dialect, "key", key, "bytes", len(body))
	return nil
}

// Get returns the document stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	q := `SELECT body FROM documents WHERE object_key = ?`
	if s.dialect == Postgres {
		q = `SELECT body FROM documents WHERE object_key = $1`
	}
	var body string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&body); err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
