package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthExpired is returned on HTTP 401. The crawler does not hold
// credentials, so it cannot re-login; the run must checkpoint and exit
// so the operator can mint a fresh session.
var ErrAuthExpired = errors.New("familysearch session expired")

// ThrottledError is returned on HTTP 429 and 5xx responses. The caller
// retries through the rate controller's adaptive backoff, honoring
// RetryAfter when the server provided one.
type ThrottledError struct {
	// StatusCode is the HTTP status that triggered throttling.
	StatusCode int

	// RetryAfter is the parsed Retry-After delay, or zero when the
	// server sent none.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("throttled (HTTP %d, retry after %s)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("throttled (HTTP %d)", e.StatusCode)
}

// PermanentError is returned for 4xx statuses other than 401 and 429.
// Retrying cannot help; the affected pids go back to the frontier and
// the iteration continues.
type PermanentError struct {
	// StatusCode is the HTTP status.
	StatusCode int

	// URL is the request URL, for the failure log.
	URL string
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure (HTTP %d) for %s", e.StatusCode, e.URL)
}

// TransientError wraps a network or timeout failure. The caller
// retries up to the configured limit with exponential backoff.
type TransientError struct {
	// Err is the underlying transport error.
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

// Unwrap exposes the transport error to errors.Is/As.
func (e *TransientError) Unwrap() error { return e.Err }

// IsThrottled reports whether err classifies as a throttling response.
func IsThrottled(err error) bool {
	var t *ThrottledError
	return errors.As(err, &t)
}

// IsTransient reports whether err classifies as a retryable transport
// failure.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err classifies as a non-retryable
// request failure.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
