package resilience

import "context"

// WithFallback runs primary and, if it fails, reports the error to
// onFallback and returns fallback's result instead. Errors from fallback
// are returned as is.
func WithFallback[T any](
	ctx context.Context,
	primary func(context.Context) (T, error),
	fallback func(context.Context) (T, error),
	onFallback func(error),
) (T, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	if onFallback != nil {
		onFallback(err)
	}
	return fallback(ctx)
}
