// Package loop runs a task repeatedly until it breaks or its context ends.
//
//	loop.Start(ctx, 0, func(ctx context.Context, n int) (int, loop.Next) {
//	    if err := refresh(ctx); err != nil {
//	        return n, loop.Break(err)
//	    }
//	    return n + 1, loop.Continue(interval)
//	})
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task returns.
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. A nil err stops it cleanly.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is called with the value returned by its previous run.
type Task[T any] func(context.Context, T) (T, Next)

// Option adjusts the context each run of a task sees.
type Option func(ctx context.Context) (context.Context, context.CancelFunc)

// WithTimeout bounds every run of the task by d.
func WithTimeout(d time.Duration) Option {
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}
}

// Start calls task with init, then with each value it returns, until the
// task breaks or ctx is done. It returns the last value together with the
// break error, or ctx.Err() when cancelled.
func Start[T any](ctx context.Context, init T, task Task[T], options ...Option) (T, error) {
	if err := ctx.Err(); err != nil {
		return init, err
	}

	value := init
	for {
		v, next := run(ctx, value, task, options)
		if next.err != nil {
			return v, next.err
		}
		if next.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

func run[T any](ctx context.Context, value T, task Task[T], options []Option) (T, Next) {
	for _, opt := range options {
		var cancel context.CancelFunc
		ctx, cancel = opt(ctx)
		defer cancel()
	}
	return task(ctx, value)
}
