// Package timeout wraps remote calls with a hard deadline.
//
// Every network operation in roadwatch (connect, ping, discovery, tool
// invocation, image fetch) goes through Do with its own class-specific
// deadline, so no single remote call can stall a conversation turn.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error reports that an operation did not settle within its deadline.
type Error struct {
	Op    string        // caller-supplied label, e.g. "mcp connect"
	After time.Duration // the configured deadline
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("operation timed out after %v", e.After)
	}
	return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
}

// Is reports whether target is a timeout error, so callers can use
// errors.Is(err, &timeout.Error{}) without matching fields.
func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}

// IsTimeout reports whether err is (or wraps) a deadline failure from Do.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Do runs fn with the given deadline. If fn settles first, its result is
// returned as-is. If the deadline fires first, Do returns *Error
// immediately; fn keeps running in its goroutine until its own context
// check fires, but the caller never waits for it.
func Do[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	// Buffered so the goroutine can always complete its send and exit,
	// even after the caller has given up.
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, &Error{Op: op, After: d}
		}
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
