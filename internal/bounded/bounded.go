// Package bounded runs a single external call under a fixed deadline.
package bounded

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("operation timed out")

// Do runs fn with a context that expires after d. When the deadline passes
// before fn returns, Do returns ErrTimeout wrapped with op. A d of zero or less
// disables the deadline.
func Do[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%s after %s: %w", op, d, ErrTimeout)
	}
}

// Run is Do for calls that only return an error.
func Run(ctx context.Context, op string, d time.Duration, fn func(context.Context) error) error {
	_, err := Do(ctx, op, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
