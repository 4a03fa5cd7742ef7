package services

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestForEachSymbol_VisitsEverySymbol(t *testing.T) {
	symbols := make([]string, 50)
	for i := range symbols {
		symbols[i] = string(rune('A'+i%26)) + "X"
	}

	visited := make([]string, len(symbols))
	ForEachSymbol(context.Background(), symbols, 16, func(ctx context.Context, idx int, symbol string) {
		visited[idx] = symbol
	})

	for i, symbol := range symbols {
		if visited[i] != symbol {
			t.Errorf("index %d: got %q, want %q", i, visited[i], symbol)
		}
	}
}

func TestForEachSymbol_BoundsConcurrency(t *testing.T) {
	const maxWorkers = 4
	var inFlight, peak atomic.Int64

	symbols := make([]string, 40)
	for i := range symbols {
		symbols[i] = "SYM"
	}

	ForEachSymbol(context.Background(), symbols, maxWorkers, func(ctx context.Context, idx int, symbol string) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inFlight.Add(-1)
	})

	if peak.Load() > maxWorkers {
		t.Errorf("peak concurrency %d exceeded limit %d", peak.Load(), maxWorkers)
	}
}

func TestForEachSymbol_OneFailureDoesNotStopBatch(t *testing.T) {
	symbols := make([]string, 50)
	for i := range symbols {
		symbols[i] = "S"
	}

	var completed, failed atomic.Int64
	ForEachSymbol(context.Background(), symbols, 16, func(ctx context.Context, idx int, symbol string) {
		if idx == 17 {
			failed.Add(1)
			return
		}
		completed.Add(1)
	})

	if completed.Load() != 49 || failed.Load() != 1 {
		t.Errorf("completed=%d failed=%d, want 49/1", completed.Load(), failed.Load())
	}
}

func TestForEachSymbol_CancelledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int64
	ForEachSymbol(ctx, make([]string, 100), 1, func(ctx context.Context, idx int, symbol string) {
		ran.Add(1)
	})

	if ran.Load() != 0 {
		t.Errorf("expected no invocations after cancel, got %d", ran.Load())
	}
}
