// Package errors provides the structured error type shared by the queue,
// the resilience primitives and the HTTP API. Every AppError carries a
// machine-readable code, an HTTP status and a retryable flag so callers
// can map "temporarily unavailable, retry later" conditions uniformly.
package errors
