package extract

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/extract-cli/internal/resilience"
)

// MockClient implements completion.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, timeout)
	return args.String(0), args.Error(1)
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var _ resilience.Sleeper = (*recordingSleeper)(nil)

// fixedClock returns t0, t0+1s, t0+2s, ...
func fixedClock(t0 time.Time) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n-1) * time.Second)
	}
}
