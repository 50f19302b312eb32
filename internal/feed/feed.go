// Package feed retrieves the raw mirror status document, either over HTTP
// from the upstream status service or from a local file.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/safety"
)

const (
	// DefaultURL is the Arch Linux mirror status endpoint.
	DefaultURL = "https://archlinux.org/mirrors/status/json/"

	DefaultTimeout        = 30 * time.Second
	DefaultMaxBytes int64 = 16 * 1024 * 1024
	DefaultRetries        = 3

	userAgent = "mirrorgen/1.0"
)

// FetchError reports a failure to retrieve the status document.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPSource fetches the status document from a URL.
type HTTPSource struct {
	url      string
	client   *http.Client
	maxBytes int64
	attempts int
	backoff  func(attempt int) time.Duration
	logger   *slog.Logger
}

// NewHTTPSource creates a source for url. Zero timeout or maxBytes select
// the defaults.
func NewHTTPSource(url string, timeout time.Duration, maxBytes int64, logger *slog.Logger) *HTTPSource {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPSource{
		url:      url,
		client:   safety.NewHTTPClient(timeout),
		maxBytes: maxBytes,
		attempts: DefaultRetries,
		backoff:  backoffDelay,
		logger:   logger,
	}
}

// WithAttempts sets how many times a transient failure is tried before
// giving up. Values below 1 mean a single attempt.
func (s *HTTPSource) WithAttempts(n int) *HTTPSource {
	if n < 1 {
		n = 1
	}
	s.attempts = n
	return s
}

// Name returns the URL the source reads from.
func (s *HTTPSource) Name() string { return s.url }

// Fetch performs a GET against the status URL and returns the body,
// decompressed when it carries a zstd, xz or gzip payload. Network errors,
// 5xx and 429 responses are retried with exponential backoff.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(s.url); err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		data, err := s.fetchOnce(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) || attempt == s.attempts {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Warn("feed fetch failed, retrying", "url", s.url, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &FetchError{URL: s.url, Err: fmt.Errorf("cancelled during retry: %w", ctx.Err())}
		}
	}
	return nil, lastErr
}

func (s *HTTPSource) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: s.url, StatusCode: resp.StatusCode}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, &FetchError{URL: s.url, Err: fmt.Errorf("response exceeded %d bytes: %w", s.maxBytes, err)}
		}
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("reading response body: %w", err)}
	}

	s.logger.Debug("fetched status feed", "url", s.url, "bytes", len(body), "elapsed", time.Since(start))

	data, err := Decompress(body, s.maxBytes)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("%w: %w", errDecode, err)}
	}
	return data, nil
}

// FileSource reads a status document saved on disk.
type FileSource struct {
	path     string
	maxBytes int64
	logger   *slog.Logger
}

// NewFileSource creates a source reading path.
func NewFileSource(path string, maxBytes int64, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &FileSource{path: path, maxBytes: maxBytes, logger: logger}
}

// Name returns the file path.
func (s *FileSource) Name() string { return s.path }

// Fetch reads and, if needed, decompresses the file.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &FetchError{URL: s.path, Err: err}
	}
	defer f.Close()

	raw, err := safety.ReadAllWithLimit(f, s.maxBytes)
	if err != nil {
		return nil, &FetchError{URL: s.path, Err: fmt.Errorf("reading feed file: %w", err)}
	}

	data, err := Decompress(raw, s.maxBytes)
	if err != nil {
		return nil, &FetchError{URL: s.path, Err: err}
	}
	s.logger.Debug("read status feed", "path", s.path, "bytes", len(data))
	return data, nil
}
