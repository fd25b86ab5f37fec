package zoom

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/curtbushko/zoom-mirror/internal/retry"
)

// AuthError represents authentication-related errors. It is fatal to a run.
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrorType implements retry.Typed
func (e *AuthError) ErrorType() retry.ErrorType { return retry.ErrorTypeAuth }

// APIError represents a non-2xx response from a Zoom REST endpoint
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("zoom API error %d (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("zoom API error: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ErrorType implements retry.Typed
func (e *APIError) ErrorType() retry.ErrorType {
	return retry.ClassifyHTTPStatus(e.StatusCode)
}

// RateLimited reports whether the provider rejected the request with 429
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err carries a 429 APIError
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// EnumerationError reports a failed listing call. Scope is "members" for the
// member list or the member ID for a recordings listing.
type EnumerationError struct {
	Scope string
	Page  int
	Err   error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s failed on page %d: %v", e.Scope, e.Page, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// ErrorType implements retry.Typed
func (e *EnumerationError) ErrorType() retry.ErrorType {
	return retry.ClassifyError(e.Err)
}

// IsAuthError reports whether err was caused by a failed token exchange
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
