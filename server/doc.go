// Package server provides the HTTP API for taskguard: a Gin engine behind
// h2c with recovery, request ids, request logging, metrics, CORS and body
// limits applied to every request.
//
// The API exposes queue administration (stats, job listing, enqueue,
// removal, pause and resume, cleaning) and the state of the shared circuit
// breaker and bulkhead registries:
//
//	srv := server.New(cfg.Server, log, server.WithMetrics(metrics))
//	srv.RegisterDefaultEndpoints("taskguard", version, components.HealthAll)
//	server.NewAPI(queues, breakers, bulkheads, limiter, log).Register(srv.Engine())
//
// Errors are rendered as {"error": {"code", "message", "retryable",
// "details"}}. Open breakers and full bulkheads answer 503 and timeouts
// 504, all marked retryable.
package server
