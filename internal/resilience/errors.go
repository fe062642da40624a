package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code, or 0 when none was recorded.
func (e *TransientError) HTTPStatus() int {
	return e.StatusCode
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, an upstream status listed by IsTransientHTTPStatus, a
// deadline or network timeout, or a connection-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return IsTransientHTTPStatus(sc.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Messages from HTTP clients that wrap connection failures as plain strings.
var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransientHTTPStatus reports whether an upstream status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429:
		return true
	default:
		return statusCode >= 500 && statusCode <= 599
	}
}
