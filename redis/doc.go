// Package redis provides the Redis-backed queue store, the client it runs
// on, and a lifecycle component for the client.
//
// Job payloads are plain string keys and every queue index is a sorted
// set, so several processes can share one queue:
//
//	comp, err := redis.NewComponent(cfg.Redis, log)
//	store := comp.Client().QueueStore()
//	reg := queue.NewRegistry(store, queue.WithLogger(log))
package redis
