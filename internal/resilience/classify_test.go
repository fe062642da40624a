package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Terminal},
		{"timeout", fmt.Errorf("complete: %w", context.DeadlineExceeded), Retryable},
		{"rate limited", statusErr(429), Retryable},
		{"server error", statusErr(502), Retryable},
		{"bad request", statusErr(400), Terminal},
		{"unauthorized", statusErr(401), Terminal},
		{"cancelled", fmt.Errorf("complete: %w", context.Canceled), Terminal},
		{"circuit open", ErrCircuitOpen, Terminal},
		{"plain", errors.New("boom"), Terminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
