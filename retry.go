package pqhybrid

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how a caller retries provider timeouts. The Adapter
// never retries on its own; callers opt in with Do. Only errors for which
// IsRetryable reports true are retried.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Multiplier is the factor by which the delay grows after each attempt.
	Multiplier float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to delays.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Delay calculates the delay before retry attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		jitterAmount := delay * p.Jitter
		delay = delay - jitterAmount + (rand.Float64() * 2 * jitterAmount)
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done. It returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
