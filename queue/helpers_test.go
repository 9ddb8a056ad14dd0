package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fastConfig keeps loop sleeps short so tests finish quickly.
func fastConfig() Config {
	return Config{Concurrency: 5, PollInterval: 2 * time.Millisecond, DelayedInterval: 5 * time.Millisecond}
}

func newTestQueue[T any](t *testing.T, opts ...Option) *Queue[T] {
	t.Helper()
	all := append([]Option{WithConfig(fastConfig())}, opts...)
	q := New[T]("test", NewMemoryStore(), all...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Drain(ctx)
	})
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForJob[T any](t *testing.T, q *Queue[T], id string, cond func(*Job[T]) bool) *Job[T] {
	t.Helper()
	var last *Job[T]
	waitFor(t, "job "+id, func() bool {
		job, err := q.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		last = job
		return cond(job)
	})
	return last
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(_ context.Context, e Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}
