package completion

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter shared by every worker calling the
// endpoint. A 429 halves the rate (down to initial/4); each success raises
// it by 20% (up to 2x initial).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter allowing perSecond
// requests with the given burst.
func NewAdaptiveLimiter(perSecond float64, burst int) *AdaptiveLimiter {
	if burst <= 0 {
		burst = 1
	}
	initial := rate.Limit(perSecond)
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initial, burst),
		initialRate: initial,
		maxRate:     initial * 2,
		minRate:     initial / 4,
		currentRate: initial,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := min(a.currentRate*1.2, a.maxRate)
	if next == a.currentRate {
		return
	}
	a.currentRate = next
	a.limiter.SetLimit(next)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("completion: reducing request rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
