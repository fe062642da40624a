package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-cli/internal/resilience"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, timeout)
	return args.String(0), args.Error(1)
}

func TestWithBreaker_OpensOnTransientFailures(t *testing.T) {
	next := new(MockClient)
	next.On("Complete", mock.Anything, "s", "u", time.Second).
		Return("", &UpstreamError{Status: 503, Err: errors.New("unavailable")}).Times(2)

	c := WithBreaker(next, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}))

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), "s", "u", time.Second)
		require.Error(t, err)
	}

	_, err := c.Complete(context.Background(), "s", "u", time.Second)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	next.AssertNumberOfCalls(t, "Complete", 2)
}

func TestWithBreaker_PassesThrough(t *testing.T) {
	next := new(MockClient)
	next.On("Complete", mock.Anything, "s", "u", time.Second).Return("{}", nil)

	c := WithBreaker(next, resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()))
	out, err := c.Complete(context.Background(), "s", "u", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	next.AssertExpectations(t)
}
