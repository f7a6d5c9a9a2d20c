package structured

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports that an operation exceeded its time budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// Retryable marks timeouts as transient.
func (e *TimeoutError) Retryable() bool { return true }

// WithTimeout runs fn with a deadline of timeout. If the deadline passes
// before fn returns, a *TimeoutError is returned and fn's eventual result is
// discarded. A non-positive timeout runs fn without a deadline.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return zero, &TimeoutError{Timeout: timeout}
		}
		return r.val, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Timeout: timeout}
	}
}
