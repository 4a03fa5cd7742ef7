package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"idx-signals/observability"
)

// RetryPolicy bounds retries for the networked stages. Backoff between
// attempts is drawn uniformly from [BackoffMin, BackoffMax]. PacingDelay
// is applied after every call, success or failure, so a batch never
// exceeds the vendor's rate limit even when everything succeeds.
type RetryPolicy struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	PacingDelay time.Duration
}

// DefaultRetryPolicy mirrors the production defaults for the IDX vendor.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BackoffMin:  500 * time.Millisecond,
	BackoffMax:  1500 * time.Millisecond,
	PacingDelay: 30 * time.Millisecond,
}

// WithRetry runs fn up to policy.MaxAttempts times. The last error is
// returned once attempts are exhausted; callers decide whether that is
// fatal or degrades to an absent value.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()

		if policy.PacingDelay > 0 {
			if pauseErr := sleepCtx(ctx, policy.PacingDelay); pauseErr != nil {
				if err != nil {
					return err
				}
				return pauseErr
			}
		}

		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < policy.MaxAttempts {
			observability.Debug("retrying after failure",
				"attempt", attempt,
				"max_attempts", policy.MaxAttempts,
				"error", err)
			if err := sleepCtx(ctx, policy.jitteredBackoff()); err != nil {
				return fmt.Errorf("context cancelled during retry: %w", err)
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

func (p RetryPolicy) jitteredBackoff() time.Duration {
	if p.BackoffMax <= p.BackoffMin {
		return p.BackoffMin
	}
	return p.BackoffMin + time.Duration(rand.Int63n(int64(p.BackoffMax-p.BackoffMin)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// NetworkFetchError wraps an exhausted per-symbol fetch. Batches absorb
// it into an absent value and an error count instead of propagating.
type NetworkFetchError struct {
	Service   string
	Operation string
	Symbol    string
	Err       error
}

func (e *NetworkFetchError) Error() string {
	return fmt.Sprintf("%s %s for %s: %v", e.Service, e.Operation, e.Symbol, e.Err)
}

func (e *NetworkFetchError) Unwrap() error {
	return e.Err
}
