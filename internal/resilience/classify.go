package resilience

import (
	"context"
	"errors"
)

// Class is the retry decision for a failed attempt.
type Class int

const (
	// Terminal failures end the attempt loop immediately.
	Terminal Class = iota
	// Retryable failures may be attempted again after a backoff.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Classify decides whether a transport-level failure is worth another
// attempt. Cancellation and an open circuit are terminal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Terminal
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCircuitOpen):
		return Terminal
	case IsTransient(err):
		return Retryable
	default:
		return Terminal
	}
}
