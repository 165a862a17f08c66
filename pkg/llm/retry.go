package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxAttempts is the total number of provider calls for one turn
	MaxAttempts = 6
	// RetryInitialInterval is the mean first delay
	RetryInitialInterval = 2500 * time.Millisecond
	// RetryMaxInterval caps the mean delay; full jitter keeps every wait under a minute
	RetryMaxInterval = 30 * time.Second
)

// NewRetryBackOff returns the default retry schedule: full-jitter
// exponential delays, at most MaxAttempts calls, cancelled with ctx.
func NewRetryBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 1.0
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxAttempts-1), ctx)
}

// NoDelayBackOff retries immediately, up to MaxAttempts calls. Used by tests.
func NoDelayBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, MaxAttempts-1), ctx)
}
