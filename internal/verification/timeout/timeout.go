// Package timeout bounds outbound calls with a deadline and turns deadline
// expiry into a caller-facing error.
package timeout

import (
	"context"
	"errors"
	"time"
)

// Error reports that an operation ran past its deadline.
type Error struct {
	Message string
	After   time.Duration
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err came from an expired guard.
func IsTimeout(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr)
}

// Do runs op under a deadline of d derived from ctx. When the deadline expires
// and op returns a cancellation error, that error is replaced by an *Error
// carrying message. Other errors, including cancellation of the parent ctx,
// pass through unchanged. The deadline is released on every return path.
func Do[T any](ctx context.Context, d time.Duration, message string, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := op(ctx)
	if err == nil {
		return v, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && isCancellation(err) {
		var zero T
		return zero, &Error{Message: message, After: d, Err: err}
	}
	return v, err
}

func isCancellation(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
