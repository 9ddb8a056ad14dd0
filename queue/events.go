package queue

import (
	"context"
	"time"
)

// EventType names a job lifecycle event.
type EventType string

const (
	EventAdded     EventType = "added"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event describes one job lifecycle change.
type Event struct {
	Type      EventType     `json:"type"`
	Queue     string        `json:"queue"`
	JobID     string        `json:"job_id"`
	JobName   string        `json:"job_name"`
	Attempt   int           `json:"attempt"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	RetryIn   time.Duration `json:"retry_in,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventSink receives lifecycle events. Publish errors are logged and never
// affect the job.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }
