package completion

import (
	"context"
	"time"

	"github.com/sells-group/extract-cli/internal/resilience"
)

type breakerClient struct {
	next Client
	cb   *resilience.CircuitBreaker
}

// WithBreaker wraps next so that, once the breaker opens, calls fail with
// resilience.ErrCircuitOpen without reaching the endpoint.
func WithBreaker(next Client, cb *resilience.CircuitBreaker) Client {
	return &breakerClient{next: next, cb: cb}
}

func (b *breakerClient) Complete(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	return resilience.ExecuteVal(ctx, b.cb, func(ctx context.Context) (string, error) {
		return b.next.Complete(ctx, systemPrompt, userPrompt, timeout)
	})
}
