package extension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "rtm/1.0"
	// maxArtifactBytes bounds a single artifact download.
	maxArtifactBytes = 2 << 30
)

// NewHTTPClient returns the client used for manifest and artifact requests.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// Downloader handles HTTP downloads with retry logic
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	backoff   time.Duration
	maxBytes  int64
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) DownloaderOption {
	return func(d *Downloader) { d.retries = n }
}

// WithBackoff sets the initial retry delay; it doubles on each retry.
func WithBackoff(base time.Duration) DownloaderOption {
	return func(d *Downloader) { d.backoff = base }
}

// NewDownloader creates a new downloader
func NewDownloader(client *http.Client, opts ...DownloaderOption) *Downloader {
	if client == nil {
		client = NewHTTPClient()
	}
	d := &Downloader{
		client:    client,
		userAgent: DefaultUserAgent,
		retries:   DefaultRetries,
		backoff:   time.Second,
		maxBytes:  maxArtifactBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// retryable reports whether a failed attempt may succeed if repeated:
// transport errors, 5xx and 429.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// DownloadToFile downloads a URL to a specific file path
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctx.Err() != nil {
			return contextError(ctx.Err())
		}

		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := d.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return contextError(ctx.Err())
			}
		}

		err := d.downloadOnce(ctx, url, destPath)
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return contextError(ctx.Err())
		}
		if !retryable(err) {
			break
		}
	}

	return NewError(ErrNetwork, "download "+url, lastErr)
}

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmpFile, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}
	if n > d.maxBytes {
		return fmt.Errorf("artifact exceeds %d bytes", d.maxBytes)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}
