package errors

import "net/http"

// ErrorCode is the machine-readable code sent to clients.
type ErrorCode string

// Rejections by a resilience primitive. All are retryable: the dependency
// may recover or free capacity.
const (
	ErrCodeCircuitOpen  ErrorCode = "CIRCUIT_OPEN"
	ErrCodeBulkheadFull ErrorCode = "BULKHEAD_FULL"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
)

// Queue and request errors.
const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeJobNotFound  ErrorCode = "JOB_NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeNoProcessor marks a job whose name has no registered handler.
	ErrCodeNoProcessor ErrorCode = "NO_PROCESSOR"
)

// Server-side failures.
const (
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreError ErrorCode = "STORE_ERROR"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeCircuitOpen:  {http.StatusServiceUnavailable, true},
	ErrCodeBulkheadFull: {http.StatusServiceUnavailable, true},
	ErrCodeTimeout:      {http.StatusGatewayTimeout, true},
	ErrCodeRateLimited:  {http.StatusTooManyRequests, true},
	ErrCodeNotFound:     {http.StatusNotFound, false},
	ErrCodeJobNotFound:  {http.StatusNotFound, false},
	ErrCodeInvalidInput: {http.StatusBadRequest, false},
	ErrCodeMissingField: {http.StatusBadRequest, false},
	ErrCodeNoProcessor:  {http.StatusUnprocessableEntity, false},
	ErrCodeInternal:     {http.StatusInternalServerError, false},
	ErrCodeStoreError:   {http.StatusServiceUnavailable, true},
}

// HTTPStatus is the status a code maps to; unknown codes map to 500.
func (c ErrorCode) HTTPStatus() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// IsRetryableCode reports whether retrying after an error with code may
// succeed.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}
