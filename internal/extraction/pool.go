package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many extractor calls run at once. Calls run on their own
// goroutine so the handler only waits on a channel.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size, logger: logger}
}

func (p *Pool) Size() int { return p.size }

// Do runs fn once a slot is free and returns its result. Waiting for a slot
// honours ctx; once started, fn runs detached from ctx's cancellation and
// Do waits for it to finish. A panic in fn is returned as an error.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("acquire worker: %w", err)
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	work := context.WithoutCancel(ctx)

	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("extraction worker panicked", "panic", r, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("extraction worker panic: %v", r)}
			}
		}()
		val, err := fn(work)
		done <- result{val: val, err: err}
	}()

	res := <-done
	return res.val, res.err
}
