package services

import (
	"context"
	"sync"
)

// ForEachSymbol runs fn once per symbol with at most maxWorkers running
// concurrently. Each invocation owns a disjoint symbol key, so workers
// need no locking as long as fn writes only to its own index. The batch
// always runs to completion; fn must absorb its own failures.
func ForEachSymbol(ctx context.Context, symbols []string, maxWorkers int, fn func(ctx context.Context, idx int, symbol string)) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, symbol := range symbols {
		wg.Add(1)
		go func(idx int, sym string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			// The select can win the slot even when ctx is already done.
			if ctx.Err() != nil {
				return
			}

			fn(ctx, idx, sym)
		}(i, symbol)
	}

	wg.Wait()
}
