package service

import (
	"context"
	"sync"
	"sync/atomic"
)

// forEach calls fn for every index in [0, n) on at most workers goroutines.
// Indexes not yet picked up when ctx is done are skipped. It returns how
// many calls were made.
func forEach(ctx context.Context, workers, n int, fn func(i int)) int {
	if n == 0 {
		return 0
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	work := make(chan int, n)
	for i := 0; i < n; i++ {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	var started atomic.Int64
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					continue
				}
				started.Add(1)
				fn(idx)
			}
		}()
	}
	wg.Wait()
	return int(started.Load())
}
