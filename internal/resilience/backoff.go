package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before each retry: exponential growth from
// Initial by Multiplier, capped at Max. Delays never decrease from one
// retry to the next.
type Backoff struct {
	// Initial is the delay before the first retry. Default: 2s.
	Initial time.Duration

	// Max caps every delay, including one raised by a server hint. Default: 30s.
	Max time.Duration

	// Multiplier scales the delay after each retry. Default: 2.0.
	Multiplier float64

	// JitterFraction adds up to this fraction of the delay on top of it.
	// It is limited to Multiplier-1 so growth stays monotonic. Default: 0.
	JitterFraction float64

	// rand returns a value in [0,1); tests replace it.
	rand func() float64
}

// DefaultBackoff returns the backoff used for completion retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
	}
}

// FromBackoffConfig converts config values to a Backoff, keeping defaults
// for non-positive values.
func FromBackoffConfig(initialMs, maxMs int, multiplier, jitterFraction float64) Backoff {
	b := DefaultBackoff()
	if initialMs > 0 {
		b.Initial = time.Duration(initialMs) * time.Millisecond
	}
	if maxMs > 0 {
		b.Max = time.Duration(maxMs) * time.Millisecond
	}
	if multiplier > 0 {
		b.Multiplier = multiplier
	}
	if jitterFraction > 0 {
		b.JitterFraction = jitterFraction
	}
	return b
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.JitterFraction < 0 {
		b.JitterFraction = 0
	}
	if b.JitterFraction > b.Multiplier-1 {
		b.JitterFraction = b.Multiplier - 1
	}
	if b.rand == nil {
		b.rand = rand.Float64
	}
	return b
}

// Delay returns the wait before retry number n (1 for the first retry).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	b = b.withDefaults()

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if b.JitterFraction > 0 {
		delay += delay * b.JitterFraction * b.rand()
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// DelayWithHint returns Delay(n), raised to a server-supplied hint such as
// Retry-After but never above Max.
func (b Backoff) DelayWithHint(n int, hint time.Duration) time.Duration {
	d := b.Delay(n)
	if hint <= d {
		return d
	}
	limit := b.withDefaults().Max
	if hint > limit {
		return limit
	}
	return hint
}

// Sleeper suspends the calling goroutine between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// ContextSleeper waits on a timer and returns early with ctx.Err() when the
// context is done.
type ContextSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
