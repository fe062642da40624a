package completion

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// NetworkError is a failure to get any response from the endpoint:
// connection errors and per-call timeouts.
type NetworkError struct {
	Err     error
	timeout bool
}

// NewNetworkError wraps err as a network failure.
func NewNetworkError(err error, timeout bool) *NetworkError {
	return &NetworkError{Err: err, timeout: timeout}
}

func (e *NetworkError) Error() string {
	if e.timeout {
		return fmt.Sprintf("completion: request timed out: %v", e.Err)
	}
	return fmt.Sprintf("completion: network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the call hit its deadline. Together with
// Temporary it satisfies net.Error.
func (e *NetworkError) Timeout() bool { return e.timeout }

// Temporary is part of net.Error; it mirrors Timeout.
func (e *NetworkError) Temporary() bool { return e.timeout }

// UpstreamError is a response with a non-success status code.
type UpstreamError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion: upstream status %d: %v", e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code.
func (e *UpstreamError) HTTPStatus() int { return e.Status }

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when the header is absent or unparseable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	val := h.Get("Retry-After")
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(val); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
