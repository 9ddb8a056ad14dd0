// Package kafka publishes job lifecycle events to a Kafka topic.
//
// Publisher implements queue.EventSink. Each event is wrapped in an
// Envelope and keyed by job id; writes go through resilience.Resilient
// with a per-attempt timeout, retries for connection errors and an
// optional circuit breaker:
//
//	pub, err := kafka.NewPublisher(cfg.Kafka, log,
//	    kafka.WithBreaker(breakers.Get("kafka")))
//	reg := queue.NewRegistry(store, queue.WithEventSink(pub))
package kafka
