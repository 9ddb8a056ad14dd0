// Package resilience protects calls to unreliable dependencies.
//
// This package includes:
//   - CircuitBreaker: fails fast once a dependency keeps failing
//   - Bulkhead: caps concurrent calls with a bounded FIFO wait queue
//   - Retry, WithTimeout, WithFallback: stateless wrappers
//   - RateLimiter and KeyedRateLimiter: token buckets
//   - BreakerRegistry and BulkheadRegistry: one shared instance per name
//
// Resilient composes the wrappers in a fixed order, innermost first:
// timeout, retry, circuit breaker, bulkhead, fallback.
//
//	breakers := resilience.NewBreakerRegistry(resilience.DefaultCircuitBreakerConfig(""))
//	bulkheads := resilience.NewBulkheadRegistry(resilience.DefaultBulkheadConfig(""))
//
//	id, err := resilience.Resilient(ctx, sendMail, resilience.ResilientOptions[string]{
//	    CircuitBreaker: breakers.Get("smtp"),
//	    Bulkhead:       bulkheads.Get("smtp"),
//	    Timeout:        10 * time.Second,
//	    RetryAttempts:  3,
//	})
//	if err != nil {
//	    return resilience.WrapError(err)
//	}
package resilience
