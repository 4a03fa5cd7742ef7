package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCircuitBreakerRegistry_GetBreakerReuses(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)

	cb1 := registry.GetBreaker("goapi_historical")
	cb2 := registry.GetBreaker("goapi_historical")
	if cb1 != cb2 {
		t.Error("same name should return the same breaker")
	}

	cb3 := registry.GetBreaker("goapi_broker_summary")
	if cb1 == cb3 {
		t.Error("different names should get different breakers")
	}
}

func TestCircuitBreakerRegistry_Execute(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)

	result, err := registry.Execute(context.Background(), "test", func() (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v", result)
	}

	sentinel := errors.New("boom")
	_, err = registry.Execute(context.Background(), "test", func() (any, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel, got %v", err)
	}
}

func TestCircuitBreakerRegistry_TripsAfterFailures(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})

	// Five consecutive failures meet the trip condition (>=5 requests at
	// >=50% failure ratio).
	for i := 0; i < 5; i++ {
		registry.Execute(context.Background(), "flaky", func() (any, error) {
			return nil, errors.New("down")
		})
	}

	_, err := registry.Execute(context.Background(), "flaky", func() (any, error) {
		t.Error("function should not run while breaker is open")
		return nil, nil
	})
	if err == nil || !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("expected open-breaker error, got %v", err)
	}
}

func TestCircuitBreakerRegistry_CancelledContext(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.Execute(ctx, "test", func() (any, error) {
		t.Error("function should not run with cancelled context")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
