package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = NewTransientError(errors.New("503 service unavailable"), 503)

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errUpstream
		})
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterTransientFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	tripBreaker(cb, 3)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_TerminalErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("400 bad request")
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	tripBreaker(cb, 2)

	if failures, _ := cb.Counters(); failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", failures)
	}
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if failures, _ := cb.Counters(); failures != 0 {
		t.Errorf("expected 0 consecutive failures after success, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	tripBreaker(cb, 2)

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open state, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	tripBreaker(cb, 2)

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	tripBreaker(cb, 1)

	failures, state := cb.Counters()
	if state != CircuitOpen {
		t.Errorf("expected open state after half-open failure, got %s", state)
	}
	if failures != 3 {
		t.Errorf("expected 3 failures, got %d", failures)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions [][2]CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, [2]CircuitState{from, to})
		},
	})
	tripBreaker(cb, 2)

	if len(transitions) != 1 || transitions[0] != [2]CircuitState{CircuitClosed, CircuitOpen} {
		t.Errorf("expected one closed->open transition, got %v", transitions)
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "{}", nil
	})
	if err != nil || val != "{}" {
		t.Fatalf("expected pass-through, got %q, %v", val, err)
	}

	tripBreaker(cb, 1)
	val, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "{}", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errUpstream
				}
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(0, 0)
	if cfg.FailureThreshold != 5 || cfg.ResetTimeout != 30*time.Second {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	cfg = FromCircuitConfig(2, 10)
	if cfg.FailureThreshold != 2 || cfg.ResetTimeout != 10*time.Second {
		t.Errorf("expected overrides, got %+v", cfg)
	}
}
