// Package download fetches recording files to disk with verified, atomic writes
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/curtbushko/zoom-mirror/internal/config"
	"github.com/curtbushko/zoom-mirror/internal/logging"
	"github.com/curtbushko/zoom-mirror/internal/retry"
	"github.com/curtbushko/zoom-mirror/internal/zoom"
)

// PartialSuffix is appended to the target path while a download is in flight
const PartialSuffix = ".part"

// DownloadManager defines the interface for download operations
type DownloadManager interface {
	Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error)
}

// DownloadConfig holds configuration for the download manager
type DownloadConfig struct {
	RetryAttempts  int           // Total attempts per file
	RetryDelay     time.Duration // Wait between attempts (0 retries immediately)
	Timeout        time.Duration // Per-attempt limit
	UserAgent      string
	CircuitBreaker config.CircuitBreakerConfig
}

// ConfigFromSettings maps the download section of the application config
func ConfigFromSettings(cfg config.DownloadConfig) DownloadConfig {
	return DownloadConfig{
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay(),
		Timeout:        cfg.TimeoutDuration(),
		CircuitBreaker: cfg.CircuitBreaker,
	}
}

// DownloadRequest represents a single download request
type DownloadRequest struct {
	ID           string // Recording file id, for logs
	URL          string
	Destination  string
	ExpectedSize int64
	ValidateSize bool // Compare the written size to ExpectedSize
}

// DownloadResult represents the result of a download
type DownloadResult struct {
	DownloadID      string
	BytesDownloaded int64
	Duration        time.Duration
	Attempts        int
	Success         bool
	Error           error
}

// Observer receives per-attempt measurements
type Observer interface {
	ObserveDownloadAttempt(success bool)
	ObserveBytes(n int64)
}

// invalidator is implemented by authenticators that can drop a rejected token
type invalidator interface {
	Invalidate()
}

type downloadManagerImpl struct {
	config     DownloadConfig
	auth       zoom.Authenticator
	httpClient *http.Client
	logger     logging.Logger
	observer   Observer
	sleep      retry.SleepFunc
	breaker    *gobreaker.CircuitBreaker[int64]
}

// Option configures the download manager
type Option func(*downloadManagerImpl)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(dm *downloadManagerImpl) {
		dm.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(dm *downloadManagerImpl) {
		dm.logger = logger
	}
}

// WithObserver registers a metrics observer
func WithObserver(observer Observer) Option {
	return func(dm *downloadManagerImpl) {
		dm.observer = observer
	}
}

// WithSleep replaces the wait between attempts
func WithSleep(sleep retry.SleepFunc) Option {
	return func(dm *downloadManagerImpl) {
		dm.sleep = sleep
	}
}

// NewDownloadManager creates a download manager. auth may be nil for URLs that
// need no token.
func NewDownloadManager(cfg DownloadConfig, auth zoom.Authenticator, opts ...Option) DownloadManager {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "zoom-mirror/1.0"
	}

	dm := &downloadManagerImpl{
		config: cfg,
		auth:   auth,
		httpClient: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		logger: logging.NewNopLogger(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(dm)
	}

	if cfg.CircuitBreaker.Enabled {
		dm.breaker = newBreaker(cfg.CircuitBreaker, dm.logger)
	}

	return dm
}

func newBreaker(cfg config.CircuitBreakerConfig, logger logging.Logger) *gobreaker.CircuitBreaker[int64] {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 10
	}
	return gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "downloads",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Only transport and server trouble count against the provider
			switch retry.ClassifyError(err) {
			case retry.ErrorTypeNetwork, retry.ErrorTypeTimeout, retry.ErrorTypeServer:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
}

// Download fetches req.URL to req.Destination. Each attempt writes to
// Destination+".part" and renames it into place only after the stream (and,
// when requested, the size check) succeeded. No partial file survives a
// failed or canceled attempt.
func (dm *downloadManagerImpl) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	start := time.Now()
	result := &DownloadResult{DownloadID: req.ID}

	if req.URL == "" {
		err := &DownloadError{Destination: req.Destination, Err: ErrMissingURL}
		result.Error = err
		result.Duration = time.Since(start)
		return result, err
	}

	executor := retry.NewExecutor(
		retry.DownloadPolicy(dm.config.RetryAttempts, dm.config.RetryDelay),
		retry.WithSleep(dm.sleep),
		retry.WithOnRetry(func(attempt int, errorType retry.ErrorType, delay time.Duration, err error) {
			dm.logger.WarnWithContext(ctx, "Download attempt %d/%d of %s failed (%s), retrying in %v: %v",
				attempt, dm.config.RetryAttempts, filepath.Base(req.Destination), errorType, delay, err)
		}),
	)

	err := executor.Execute(ctx, func(ctx context.Context, attempt int) error {
		written, err := dm.attempt(ctx, req, attempt)
		if dm.observer != nil {
			dm.observer.ObserveDownloadAttempt(err == nil)
		}
		if err != nil {
			return err
		}
		result.BytesDownloaded = written
		return nil
	})

	result.Attempts = executor.GetMetrics().TotalAttempts
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		return result, err
	}

	result.Success = true
	if dm.observer != nil {
		dm.observer.ObserveBytes(result.BytesDownloaded)
	}
	dm.logger.LogPerformance(logging.PerformanceMetrics{
		Operation:      "download",
		Duration:       result.Duration,
		BytesProcessed: result.BytesDownloaded,
		Success:        true,
		Metadata: map[string]interface{}{
			"file_id":  req.ID,
			"attempts": result.Attempts,
		},
	})
	return result, nil
}

// attempt runs one try, through the breaker when enabled
func (dm *downloadManagerImpl) attempt(ctx context.Context, req DownloadRequest, attempt int) (int64, error) {
	if dm.breaker == nil {
		return dm.fetch(ctx, req, attempt)
	}

	written, err := dm.breaker.Execute(func() (int64, error) {
		return dm.fetch(ctx, req, attempt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, &breakerOpenError{err: err}
	}
	return written, err
}

func (dm *downloadManagerImpl) fetch(ctx context.Context, req DownloadRequest, attempt int) (int64, error) {
	downloadURL, err := dm.authorizedURL(ctx, req.URL)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return 0, retry.Permanent(fmt.Errorf("failed to create destination directory: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, dm.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, retry.Permanent(&DownloadError{Destination: req.Destination, Attempt: attempt, Err: err})
	}
	httpReq.Header.Set("User-Agent", dm.config.UserAgent)

	requestID, _ := logging.GetRequestID(ctx)
	dm.logger.LogAPIRequest(logging.APIRequest{Method: http.MethodGet, URL: downloadURL, RequestID: requestID})

	resp, err := dm.httpClient.Do(httpReq)
	if err != nil {
		return 0, &DownloadError{Destination: req.Destination, Attempt: attempt, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := dm.auth.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return 0, &DownloadError{Destination: req.Destination, Attempt: attempt, StatusCode: resp.StatusCode}
	}

	partial := req.Destination + PartialSuffix
	written, err := writePartial(partial, resp.Body)
	if err != nil {
		os.Remove(partial)
		return 0, &DownloadError{Destination: req.Destination, Attempt: attempt, Err: err}
	}

	if req.ValidateSize && written != req.ExpectedSize {
		os.Remove(partial)
		return 0, &DownloadError{
			Destination: req.Destination,
			Attempt:     attempt,
			Expected:    req.ExpectedSize,
			Actual:      written,
			Err:         ErrSizeMismatch,
		}
	}

	if err := os.Rename(partial, req.Destination); err != nil {
		os.Remove(partial)
		return 0, &DownloadError{Destination: req.Destination, Attempt: attempt, Err: err}
	}

	return written, nil
}

// authorizedURL appends the current access token as a query parameter
func (dm *downloadManagerImpl) authorizedURL(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("invalid download URL: %w", err))
	}
	if dm.auth == nil {
		return u.String(), nil
	}

	token, err := dm.auth.GetAccessToken(ctx)
	if err != nil {
		// A failed token exchange ends the run, so stop retrying here
		return "", retry.Permanent(err)
	}

	query := u.Query()
	query.Set("access_token", token.AccessToken)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// writePartial streams body into path, returning the size on disk
func writePartial(path string, body io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return 0, fmt.Errorf("failed to write response body: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return 0, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}
