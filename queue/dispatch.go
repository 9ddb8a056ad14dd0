package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
)

type pendingEvent struct {
	ctx   context.Context
	event Event
}

// dispatcher hands events to the sink from one background goroutine, so a
// slow sink never holds up Add or a worker slot. When the buffer is full the
// event is dropped and counted. The goroutine starts on the first send and
// exits on flush; a later send starts it again.
type dispatcher struct {
	sink    EventSink
	size    int
	queue   string
	log     *logger.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	ch   chan pendingEvent
	done chan struct{}

	dropped atomic.Int64
}

func newDispatcher(sink EventSink, size int, queue string, log *logger.Logger, m *observability.Metrics) *dispatcher {
	return &dispatcher{sink: sink, size: size, queue: queue, log: log, metrics: m}
}

// send enqueues e without blocking. It reports false when e was dropped.
func (d *dispatcher) send(ctx context.Context, e Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		d.ch = make(chan pendingEvent, d.size)
		d.done = make(chan struct{})
		go d.run(d.ch, d.done)
	}
	select {
	case d.ch <- pendingEvent{ctx: context.WithoutCancel(ctx), event: e}:
		return true
	default:
		n := d.dropped.Add(1)
		d.metrics.RecordRejection(ctx, "event_buffer", d.queue)
		d.log.Warn("Event buffer full, dropping job event", logger.Fields(
			logger.FieldJobID, e.JobID, "event", string(e.Type), "dropped_total", n))
		return false
	}
}

func (d *dispatcher) run(ch <-chan pendingEvent, done chan<- struct{}) {
	defer close(done)
	for p := range ch {
		if err := d.sink.Publish(p.ctx, p.event); err != nil {
			d.log.Warn("Publishing job event failed", logger.MergeWithError(
				logger.Fields(logger.FieldJobID, p.event.JobID, "event", string(p.event.Type)), err))
		}
	}
}

// flush stops accepting into the current buffer and waits until every
// buffered event has been handed to the sink, or ctx ends.
func (d *dispatcher) flush(ctx context.Context) error {
	d.mu.Lock()
	if d.ch == nil {
		d.mu.Unlock()
		return nil
	}
	close(d.ch)
	done := d.done
	d.ch, d.done = nil, nil
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
