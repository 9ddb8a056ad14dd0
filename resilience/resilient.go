package resilience

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/kbukum/taskguard/errors"
)

// ResilientOptions selects the layers Resilient applies. Zero fields are skipped.
type ResilientOptions[T any] struct {
	// CircuitBreaker observes one outcome per call, after retries.
	CircuitBreaker *CircuitBreaker
	// Bulkhead bounds how many calls run at once.
	Bulkhead *Bulkhead
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts. Values <= 1 mean a single attempt.
	RetryAttempts int
	// Retry overrides delays and the retry condition. MaxAttempts is taken
	// from RetryAttempts when that is set; otherwise it means what it means
	// to Retry, so zero selects the default of 3.
	Retry *RetryConfig
	// Fallback produces a result when every other layer has failed.
	Fallback func(ctx context.Context, err error) (T, error)
	// OnFallback is called with the error that triggered the fallback.
	OnFallback func(err error)
}

// Resilient runs fn wrapped in, from innermost to outermost:
//
//	timeout -> retry -> circuit breaker -> bulkhead -> fallback
//
// Retries happen inside the breaker, so a call that fails three times and
// then succeeds counts as a single success. Bulkhead rejections and open
// circuit rejections reach the fallback but never the breaker counters.
func Resilient[T any](ctx context.Context, fn func(context.Context) (T, error), opts ResilientOptions[T]) (T, error) {
	call := fn

	if opts.Timeout > 0 {
		inner := call
		d := opts.Timeout
		call = func(ctx context.Context) (T, error) {
			return WithTimeout(ctx, d, inner)
		}
	}

	if attempts := retryAttempts(opts); attempts > 1 {
		inner := call
		cfg := DefaultRetryConfig()
		if opts.Retry != nil {
			cfg = *opts.Retry
		}
		cfg.MaxAttempts = attempts
		call = func(ctx context.Context) (T, error) {
			return Retry(ctx, cfg, inner)
		}
	}

	if opts.CircuitBreaker != nil {
		inner := call
		cb := opts.CircuitBreaker
		call = func(ctx context.Context) (T, error) {
			return ExecuteBreaker(ctx, cb, inner)
		}
	}

	if opts.Bulkhead != nil {
		inner := call
		bh := opts.Bulkhead
		call = func(ctx context.Context) (T, error) {
			return ExecuteBulkhead(ctx, bh, inner)
		}
	}

	if opts.Fallback == nil {
		return call(ctx)
	}

	var cause error
	return WithFallback(ctx, call,
		func(ctx context.Context) (T, error) { return opts.Fallback(ctx, cause) },
		func(err error) {
			cause = err
			if opts.OnFallback != nil {
				opts.OnFallback(err)
			}
		},
	)
}

func retryAttempts[T any](opts ResilientOptions[T]) int {
	if opts.RetryAttempts > 0 {
		return opts.RetryAttempts
	}
	if opts.Retry != nil {
		cfg := *opts.Retry
		cfg.ApplyDefaults()
		return cfg.MaxAttempts
	}
	return 1
}

// IsRejection reports whether err means the dependency was never invoked
// because a breaker or bulkhead turned the call away.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBulkheadFull)
}

// WrapError converts resilience errors into AppErrors for clients. Circuit
// open, bulkhead full, timeouts and rate limiting all read as "retry
// later"; anything else passes through unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}

	var (
		open *CircuitOpenError
		full *BulkheadFullError
		te   *TimeoutError
	)
	switch {
	case errors.As(err, &open):
		return apperrors.CircuitOpen(open.Name, open.NextRetry).WithCause(err)
	case errors.As(err, &full):
		return apperrors.BulkheadFull(full.Name).WithCause(err)
	case errors.As(err, &te):
		return apperrors.Timeout(te.Operation).WithCause(err)
	case errors.Is(err, ErrRateLimited):
		return apperrors.RateLimited().WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("deadline exceeded").WithCause(err)
	default:
		return err
	}
}
