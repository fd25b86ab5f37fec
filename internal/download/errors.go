package download

import (
	"errors"
	"fmt"

	"github.com/curtbushko/zoom-mirror/internal/retry"
)

var (
	// ErrMissingURL is returned for files the provider lists without a download URL
	ErrMissingURL = errors.New("recording file has no download URL")

	// ErrSizeMismatch is returned when a completed stream does not match the declared size
	ErrSizeMismatch = errors.New("downloaded size does not match declared size")
)

// DownloadError describes one failed download attempt
type DownloadError struct {
	Destination string
	Attempt     int
	StatusCode  int   // Non-zero when the server answered with an error status
	Expected    int64 // Declared size, for size mismatches
	Actual      int64 // Bytes written, for size mismatches
	Err         error
}

func (e *DownloadError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("download %s attempt %d: HTTP %d", e.Destination, e.Attempt, e.StatusCode)
	case errors.Is(e.Err, ErrSizeMismatch):
		return fmt.Sprintf("download %s attempt %d: expected %d bytes, got %d", e.Destination, e.Attempt, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("download %s attempt %d: %v", e.Destination, e.Attempt, e.Err)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ErrorType classifies the failure for the retry policy
func (e *DownloadError) ErrorType() retry.ErrorType {
	switch {
	case e.StatusCode != 0:
		return retry.ClassifyHTTPStatus(e.StatusCode)
	case errors.Is(e.Err, ErrSizeMismatch):
		return retry.ErrorTypeValidation
	case errors.Is(e.Err, ErrMissingURL):
		return retry.ErrorTypeClient
	default:
		return retry.ClassifyError(e.Err)
	}
}

// breakerOpenError is returned while the circuit breaker rejects attempts
type breakerOpenError struct {
	err error
}

func (e *breakerOpenError) Error() string { return "download circuit breaker: " + e.err.Error() }

func (e *breakerOpenError) Unwrap() error { return e.err }

func (e *breakerOpenError) ErrorType() retry.ErrorType { return retry.ErrorTypeCircuit }

// IsSizeMismatch reports whether err came from size validation
func IsSizeMismatch(err error) bool {
	return errors.Is(err, ErrSizeMismatch)
}
