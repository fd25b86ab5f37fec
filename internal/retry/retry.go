// Package retry provides retry policies and error classification shared by
// the Zoom enumerators and the download manager
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorType represents different categories of errors for retry logic
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeClient     ErrorType = "client"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeCanceled   ErrorType = "canceled"
	ErrorTypeCircuit    ErrorType = "circuit_open"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Typed is implemented by errors that know their own category
type Typed interface {
	ErrorType() ErrorType
}

// permanentError marks an error that must not be retried regardless of policy
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Executor stops after the current attempt
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// BackoffFunc returns the wait before the next attempt. attempt is the number
// of attempts already made (1 after the first failure).
type BackoffFunc func(errorType ErrorType, attempt int) time.Duration

// NoBackoff retries immediately
func NoBackoff() BackoffFunc {
	return func(ErrorType, int) time.Duration { return 0 }
}

// ConstantBackoff waits the same duration before every retry
func ConstantBackoff(delay time.Duration) BackoffFunc {
	return func(ErrorType, int) time.Duration { return delay }
}

// Policy describes how an operation is retried
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero means unlimited.
	MaxAttempts int

	// Backoff computes the wait before each retry. Nil means no wait.
	Backoff BackoffFunc

	// RetryableErrors lists the error types that are retried. Anything else
	// fails on the first occurrence.
	RetryableErrors []ErrorType
}

// DownloadPolicy retries every failure kind except cancellation up to
// attempts times, waiting delay between attempts. A 401 is retried because
// the next attempt fetches a fresh token.
func DownloadPolicy(attempts int, delay time.Duration) Policy {
	backoff := NoBackoff()
	if delay > 0 {
		backoff = ConstantBackoff(delay)
	}
	return Policy{
		MaxAttempts: attempts,
		Backoff:     backoff,
		RetryableErrors: []ErrorType{
			ErrorTypeNetwork,
			ErrorTypeTimeout,
			ErrorTypeServer,
			ErrorTypeRateLimit,
			ErrorTypeAuth,
			ErrorTypeClient,
			ErrorTypeValidation,
			ErrorTypeUnknown,
		},
	}
}

// RateLimitPolicy retries only rate-limited requests, forever, sleeping a
// fixed cooldown before each retry
func RateLimitPolicy(cooldown time.Duration) Policy {
	return Policy{
		MaxAttempts:     0,
		Backoff:         ConstantBackoff(cooldown),
		RetryableErrors: []ErrorType{ErrorTypeRateLimit},
	}
}

// Validate validates a retry policy
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}
	return nil
}

// IsRetryable checks if an error type is configured as retryable
func (p Policy) IsRetryable(errorType ErrorType) bool {
	for _, retryable := range p.RetryableErrors {
		if retryable == errorType {
			return true
		}
	}
	return false
}

// CalculateDelay returns the delay before the next attempt and whether to retry
func (p Policy) CalculateDelay(errorType ErrorType, attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	if !p.IsRetryable(errorType) {
		return 0, false
	}
	if p.Backoff == nil {
		return 0, true
	}
	return p.Backoff(errorType, attempt), true
}

// ClassifyError classifies an error into an ErrorType for retry logic
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var typed Typed
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection") {
		return ErrorTypeNetwork
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline") {
		return ErrorTypeTimeout
	}
	if strings.Contains(errMsg, "unexpected eof") {
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// ClassifyHTTPStatus classifies HTTP status codes into error types
func ClassifyHTTPStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClient
	case statusCode >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFunc is notified before each retry
type RetryFunc func(attempt int, errorType ErrorType, delay time.Duration, err error)

// Metrics holds metrics about the last execution
type Metrics struct {
	TotalAttempts  int
	TotalDuration  time.Duration
	LastError      error
	LastErrorType  ErrorType
	SuccessAttempt int // Which attempt succeeded (0 if failed)
}

// Executor runs operations under a Policy
type Executor struct {
	policy  Policy
	sleep   SleepFunc
	onRetry RetryFunc
	metrics Metrics
}

// Option configures an Executor
type Option func(*Executor)

// WithSleep replaces the sleep function (used by tests)
func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithOnRetry registers a callback invoked before each retry
func WithOnRetry(fn RetryFunc) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor creates a new retry executor
func NewExecutor(policy Policy, opts ...Option) *Executor {
	executor := &Executor{
		policy: policy,
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Execute runs operation until it succeeds, fails with a non-retryable
// error, exhausts the policy, or ctx is done. operation receives the 1-based
// attempt number.
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context, attempt int) error) error {
	e.metrics = Metrics{}
	start := time.Now()
	defer func() {
		e.metrics.TotalDuration = time.Since(start)
	}()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx, attempt)
		e.metrics.TotalAttempts = attempt
		if err == nil {
			e.metrics.SuccessAttempt = attempt
			return nil
		}

		errorType := ClassifyError(err)
		e.metrics.LastError = err
		e.metrics.LastErrorType = errorType

		if errorType == ErrorTypeCanceled || ctx.Err() != nil {
			return err
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, permanent.err)
		}

		delay, shouldRetry := e.policy.CalculateDelay(errorType, attempt)
		if !shouldRetry {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		if e.onRetry != nil {
			e.onRetry(attempt, errorType, delay, err)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// GetMetrics returns metrics about the last execution
func (e *Executor) GetMetrics() Metrics {
	return e.metrics
}
