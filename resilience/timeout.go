package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError reports that a wait was abandoned. The operation itself may
// still be running.
type TimeoutError struct {
	Operation string
	After     time.Duration
	Message   string
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.After)
	}
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// WithTimeout races fn against a timer of length d. On expiry it returns a
// *TimeoutError carrying the optional message; fn is not stopped; its
// result is discarded. The context passed to fn carries the deadline so
// cooperative callees can give up early.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), message ...string) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	var zero T

	if d <= 0 {
		return fn(ctx)
	}

	fnCtx, cancel := context.WithTimeout(ctx, d)
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(fnCtx)
		done <- outcome{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	expired := func() (T, error) {
		te := &TimeoutError{After: d}
		if len(message) > 0 {
			te.Message = message[0]
		}
		return zero, te
	}

	select {
	case o := <-done:
		// A callee that honoured the deadline reports it as a timeout too.
		if o.err != nil && ctx.Err() == nil && errors.Is(o.err, context.DeadlineExceeded) {
			return expired()
		}
		return o.v, o.err
	case <-timer.C:
		return expired()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// raceTimeout is the error-only form used by the circuit breaker.
func raceTimeout(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	_, err := WithTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	var te *TimeoutError
	if errors.As(err, &te) && te.Operation == "" {
		te.Operation = op
	}
	return err
}
