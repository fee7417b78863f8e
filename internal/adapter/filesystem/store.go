// Package filesystem stores region documents as files under a root
// directory, one file per object key.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

const driverName = "fs"

// Store implements pipeline.Store on the local filesystem. Writes go to a
// temp file that is renamed into place, so readers never see a partial
// document and an existing file is replaced.
type Store struct {
	root   string
	logger *slog.Logger
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("filesystem root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	return &Store{root: root, logger: logger}, nil
}

// sanitizeKey rejects keys that would escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.New("invalid absolute key")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.New("invalid key traversal")
	}
	return clean, nil
}

// Put writes body to <root>/<key>, replacing any existing file.
func (s *Store) Put(_ context.Context, key string, body []byte) error {
	k, err := sanitizeKey(key)
	if err != nil {
		return &domain.StoreError{Key: key, Driver: driverName, Err: err}
	}
	path := filepath.Join(s.root, filepath.FromSlash(k))

	if err := writeAtomic(path, body); err != nil {
		return &domain.StoreError{Key: key, Driver: driverName, Err: err}
	}
	s.logger.Debug("wrote file", "path", path, "bytes", len(body))
	return nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
