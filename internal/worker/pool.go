// Package worker runs bounded-concurrency fetch pools.
package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// MaxConcurrency caps the worker count, whether chosen or configured.
const MaxConcurrency = 4

// DefaultConcurrency returns half the available parallelism, at least 1
// and at most MaxConcurrency.
func DefaultConcurrency() int {
	return clampWorkers(runtime.NumCPU() / 2)
}

func clampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Config holds pool configuration.
type Config struct {
	// Workers is the concurrency ceiling, clamped to [1, MaxConcurrency].
	// Zero selects DefaultConcurrency.
	Workers int

	// OnProgress receives the running completed count after each success.
	// It may be called from several goroutines, never concurrently.
	OnProgress func(completed, total int)
}

// Run applies fetch to every item with at most cfg.Workers calls in
// flight. Workers pull the next unclaimed item from a shared queue until
// it is drained. Results are returned in input order.
//
// The first failure cancels the context passed to the remaining fetches,
// stops workers from claiming new items and is returned once every worker
// has exited. No partial result is returned on failure.
func Run[T, R any](ctx context.Context, items []T, cfg Config, fetch func(ctx context.Context, item T) (R, error)) ([]R, error) {
	workers := DefaultConcurrency()
	if cfg.Workers > 0 {
		workers = clampWorkers(cfg.Workers)
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		next      atomic.Int64
		wg        sync.WaitGroup
		errOnce   sync.Once
		firstErr  error
		progress  sync.Mutex
		completed int
	)

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return
				}
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}

				r, err := fetch(ctx, items[i])
				if err != nil {
					fail(err)
					return
				}
				results[i] = r

				progress.Lock()
				completed++
				if cfg.OnProgress != nil {
					cfg.OnProgress(completed, len(items))
				}
				progress.Unlock()
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
