package concurrent

import (
	"context"
	"sync"
)

// Pool bounds how many functions run at the same time.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool that runs at most limit functions concurrently.
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{sem: make(chan struct{}, limit)}
}

// Do waits for a free slot and runs fn, or returns ctx.Err() if the context ends first.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
		fn()
		return nil
	}
}

// OrderedMap applies fn to every item using at most limit goroutines and
// returns the results in input order. fn cannot fail: callers encode failures
// in R. When ctx ends before an item gets a slot, fn still runs for that item
// so it can produce its own cancellation result.
func OrderedMap[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, index int, item T) R) []R {
	if len(items) == 0 {
		return nil
	}
	results := make([]R, len(items))
	if limit <= 1 || len(items) == 1 {
		for i, item := range items {
			results[i] = fn(ctx, i, item)
		}
		return results
	}

	pool := NewPool(limit)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			if err := pool.Do(ctx, func() { results[idx] = fn(ctx, idx, val) }); err != nil {
				results[idx] = fn(ctx, idx, val)
			}
		}(i, item)
	}
	wg.Wait()
	return results
}
