package errors

import (
	"fmt"
	"time"
)

// AppError is the error type every API response and every resilience
// rejection is rendered from.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	s := string(e.Code) + ": " + e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause attaches the underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges details into the error's details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// New creates an error with an explicit status. Retryable follows code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// newCode creates an error whose status comes from the code table.
func newCode(code ErrorCode, format string, args ...any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return New(code, msg, code.HTTPStatus())
}

// Wrap returns the first AppError in err's chain, or err as an internal
// error.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Internal(err)
}

// Reason is the text stored as a job's failure reason. An AppError gives
// its message; anything else, wrapped AppErrors included, gives Error().
func Reason(err error) string {
	if appErr, ok := err.(*AppError); ok { //nolint:errorlint // only the outermost error
		return appErr.Message
	}
	return err.Error()
}

// CircuitOpen reports a call short-circuited by the named breaker. A
// non-zero nextRetry is when the breaker will admit a probe.
func CircuitOpen(name string, nextRetry time.Time) *AppError {
	e := newCode(ErrCodeCircuitOpen, "The %s dependency is temporarily unavailable. Please retry later.", name).
		WithDetail("breaker", name)
	if !nextRetry.IsZero() {
		e.WithDetail("next_retry", nextRetry.UTC().Format(time.RFC3339Nano))
	}
	return e
}

// BulkheadFull reports a call turned away by the named bulkhead.
func BulkheadFull(name string) *AppError {
	return newCode(ErrCodeBulkheadFull, "The %s dependency is at capacity. Please retry later.", name).
		WithDetail("bulkhead", name)
}

// Timeout reports an abandoned wait.
func Timeout(operation string) *AppError {
	return newCode(ErrCodeTimeout, "The request took too long. Please try again.").
		WithDetail("operation", operation)
}

// RateLimited reports a client over its request rate.
func RateLimited() *AppError {
	return newCode(ErrCodeRateLimited, "Too many requests. Please wait a moment and try again.")
}

// NotFound reports a missing resource; id is optional.
func NotFound(resource, id string) *AppError {
	e := newCode(ErrCodeNotFound, "The requested %s was not found.", resource).
		WithDetail("resource", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

// JobNotFound reports a job id missing from queue.
func JobNotFound(queue, id string) *AppError {
	return newCode(ErrCodeJobNotFound, "Job %s was not found in queue %s.", id, queue).
		WithDetails(map[string]any{"queue": queue, "id": id})
}

// InvalidInput reports a rejected request value.
func InvalidInput(field, reason string) *AppError {
	e := newCode(ErrCodeInvalidInput, "Invalid input: %s", reason)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// Validation reports failed struct validation.
func Validation(message string) *AppError {
	return newCode(ErrCodeInvalidInput, "%s", message)
}

// MissingField reports an empty required field.
func MissingField(field string) *AppError {
	return newCode(ErrCodeMissingField, "Missing required field: %s", field).
		WithDetail("field", field)
}

// NoProcessor reports a job whose name has no handler. Such jobs fail
// without retry.
func NoProcessor(jobName string) *AppError {
	return newCode(ErrCodeNoProcessor, "no processor for job type %s", jobName).
		WithDetail("job_name", jobName)
}

// Internal hides cause behind a generic message.
func Internal(cause error) *AppError {
	return newCode(ErrCodeInternal, "An unexpected error occurred. Please try again or contact support.").
		WithCause(cause)
}

// StoreError reports a failing job store.
func StoreError(cause error) *AppError {
	return newCode(ErrCodeStoreError, "The job store is unavailable. Please try again.").
		WithCause(cause)
}
