// Package fetch retrieves source CSV text over HTTP(S) or from the local
// filesystem.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client implements pipeline.Fetcher. URLs with an http or https scheme are
// downloaded; file:// URLs and plain paths are read from disk.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a fetch client whose HTTP requests time out after timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch returns the full body at source. Failures are *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return c.readFile(source, source)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return c.get(ctx, source)
	case "file":
		return c.readFile(source, u.Path)
	default:
		return "", &domain.FetchError{URL: source, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

func (c *Client) get(ctx context.Context, source string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", &domain.FetchError{URL: source, Err: fmt.Errorf("create request: %w", err)}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &domain.FetchError{
			URL:        source,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.FetchError{URL: source, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("fetched", "url", source, "bytes", len(body), "elapsed", time.Since(start))
	return string(body), nil
}

func (c *Client) readFile(source, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.FetchError{URL: source, Err: err}
	}
	c.logger.Debug("read file", "path", path, "bytes", len(data))
	return string(data), nil
}
