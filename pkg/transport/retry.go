package transport

import (
	"context"
	"time"

	"github.com/telhawk-systems/eventfeed/internal/metrics"
)

// Default retry policy.
const (
	DefaultRetrierCount = 3
	DefaultRetrierDelay = 100 * time.Millisecond
)

// Policy is a fixed-delay retry policy. There is no backoff: every failed
// attempt waits exactly Delay before the next one.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy returns 3 attempts with a 100ms delay.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultRetrierCount, Delay: DefaultRetrierDelay}
}

// Retry invokes op up to p.Attempts times and returns the first success.
// When every attempt fails the last error is returned unchanged. A context
// cancelled while waiting between attempts stops the loop early, still
// returning the last error from op.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == attempts {
			break
		}

		metrics.RetryAttempts.Inc()
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}
	}
	return result, err
}
