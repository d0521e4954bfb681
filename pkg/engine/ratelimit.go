package engine

import (
	"context"
	"fmt"
)

// Gate is the admission check consulted before any adapter call.
// Implementations must make read-refill-consume a single atomic step.
type Gate interface {
	Acquire(ctx context.Context, key string, ratePerSecond float64) bool
}

// RateLimitExceeded means the gate denied admission. The dispatcher
// re-queues on it instead of failing the task.
type RateLimitExceeded struct {
	Key  string
	Rate float64
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (%.2f/s)", e.Key, e.Rate)
}

// Admit asks gate for one token. A nil gate admits everything.
func Admit(ctx context.Context, gate Gate, key string, ratePerSecond float64) error {
	if gate == nil {
		return nil
	}
	if !gate.Acquire(ctx, key, ratePerSecond) {
		rateLimited.WithLabelValues(key).Inc()
		return &RateLimitExceeded{Key: key, Rate: ratePerSecond}
	}
	return nil
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, key string, ratePerSecond float64) bool

func (f GateFunc) Acquire(ctx context.Context, key string, ratePerSecond float64) bool {
	return f(ctx, key, ratePerSecond)
}
