package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		PacingDelay: 0,
	}
}

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RecoversAfterFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("down")
	err := WithRetry(context.Background(), fastPolicy(3), func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 5,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  60 * time.Millisecond,
	}
	err := WithRetry(ctx, policy, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestWithRetry_PacingAppliesOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, PacingDelay: 30 * time.Millisecond}
	start := time.Now()
	if err := WithRetry(context.Background(), policy, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("pacing delay not applied, elapsed %v", elapsed)
	}
}

func TestJitteredBackoff_StaysInBounds(t *testing.T) {
	policy := RetryPolicy{BackoffMin: 500 * time.Millisecond, BackoffMax: 1500 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := policy.jitteredBackoff()
		if d < policy.BackoffMin || d > policy.BackoffMax {
			t.Fatalf("backoff %v outside [%v, %v]", d, policy.BackoffMin, policy.BackoffMax)
		}
	}
}

func TestNetworkFetchError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &NetworkFetchError{Service: "goapi", Operation: "historical", Symbol: "BBCA", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "BBCA") {
		t.Errorf("error message should name the symbol: %q", msg)
	}
}
