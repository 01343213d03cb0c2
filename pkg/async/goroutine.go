package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with a timeout-bounded context derived
// from parentCtx. Panics are recovered and, like returned errors, logged to
// logger. Nothing is reported back to the caller.
//
// Example:
//
//	async.SafeGo(context.Background(), logger, 10*time.Second, "session flush", func(ctx context.Context) error {
//	    return store.Save(ctx, snapshot)
//	})
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		if err := run(ctx, fn); err != nil {
			logger.WithField("task", taskName).WithError(err).Error("background task failed")
		}
	}()
}

// Batch runs fn for every item with at most workers concurrent calls and
// a per-item timeout. It waits for all items and returns every error.
// Items not yet started when ctx is cancelled fail with ctx.Err().
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	sem := make(chan struct{}, workers)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(err)
			continue
		}
		select {
		case <-ctx.Done():
			record(ctx.Err())
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := run(taskCtx, func(c context.Context) error { return fn(c, item) }); err != nil {
				record(err)
			}
		}(item)
	}

	wg.Wait()
	return errs
}

// run calls fn, converting a panic into an error carrying the stack trace
func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
