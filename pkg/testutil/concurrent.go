package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"leadgate/pkg/platform/sentinel"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes   int32
	Errors      int32
	NotFounds   int32
	Unavailable int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.NotFounds + r.Unavailable
}

// RunConcurrent executes fn in parallel goroutines released together by a
// start barrier, and categorizes the returned errors.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var successes, errs, notFounds, unavailable atomic.Int32
	run(goroutines, func(idx int) {
		err := fn(idx)
		switch {
		case err == nil:
			successes.Add(1)
		case errors.Is(err, sentinel.ErrNotFound):
			notFounds.Add(1)
		case errors.Is(err, sentinel.ErrUnavailable):
			unavailable.Add(1)
		default:
			errs.Add(1)
		}
	})
	return &ConcurrentResult{
		Successes:   successes.Load(),
		Errors:      errs.Load(),
		NotFounds:   notFounds.Load(),
		Unavailable: unavailable.Load(),
	}
}

// CountTrue executes fn in parallel goroutines released together and returns
// how many calls reported true. Used for admission races: fire N+k checks and
// count the admitted ones.
func CountTrue(goroutines int, fn func(idx int) bool) int {
	var count atomic.Int32
	run(goroutines, func(idx int) {
		if fn(idx) {
			count.Add(1)
		}
	})
	return int(count.Load())
}

func run(goroutines int, fn func(idx int)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range goroutines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			fn(idx)
		}(i)
	}
	close(start)
	wg.Wait()
}
