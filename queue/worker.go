package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
	"github.com/kbukum/taskguard/resilience"
)

// StartProcessing launches the processing loop and the delayed-job mover.
// Calling it while already running does nothing.
func (q *Queue[T]) StartProcessing() {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})

	stop := q.stopCh
	q.loops.Go(func() { q.processLoop(stop) })
	q.loops.Go(func() { q.moveLoop(stop) })

	q.log.Info("Processing started", logger.Fields(
		"concurrency", q.config.Concurrency,
		"poll_interval", q.config.PollInterval.String(),
	))
}

// StopProcessing stops admitting new jobs. Handlers already dispatched run
// to completion; use Drain to wait for them.
func (q *Queue[T]) StopProcessing() {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	close(q.stopCh)
	q.log.Info("Processing stopped")
}

// IsRunning reports whether the processing loop is admitting work.
func (q *Queue[T]) IsRunning() bool {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	return q.running
}

// ActiveCount returns how many handlers this process is running.
func (q *Queue[T]) ActiveCount() int { return int(q.active.Load()) }

// Drain stops processing, waits for dispatched handlers to finish and then
// for buffered job events to reach the sink, or for ctx to end.
func (q *Queue[T]) Drain(ctx context.Context) error {
	q.StopProcessing()

	done := make(chan struct{})
	go func() {
		q.loops.Wait()
		q.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.log.Warn("Drain interrupted", logger.Fields("active", q.ActiveCount()))
		return ctx.Err()
	}
	if q.events == nil {
		return nil
	}
	if err := q.events.flush(ctx); err != nil {
		q.log.Warn("Drain interrupted while flushing job events", logger.ErrorFields("flush", err))
		return err
	}
	return nil
}

// processLoop pops jobs while there is capacity and sleeps PollInterval
// when there is none or nothing is waiting.
func (q *Queue[T]) processLoop(stop <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if q.active.Load() >= int64(q.config.Concurrency) {
			if !sleep(stop, q.config.PollInterval) {
				return
			}
			continue
		}

		if q.config.RespectPause {
			if paused, err := q.IsPaused(ctx); err == nil && paused {
				if !sleep(stop, q.config.PollInterval) {
					return
				}
				continue
			}
		}

		id, ok, err := q.store.ZPopMin(ctx, q.keys.index(StatusWaiting))
		if err != nil {
			q.log.Error("Popping waiting job failed", logger.ErrorFields("zpopmin", err))
		}
		if err != nil || !ok {
			if !sleep(stop, q.config.PollInterval) {
				return
			}
			continue
		}

		if err := q.store.ZAdd(ctx, q.keys.index(StatusActive), float64(q.now().UnixMilli()), id); err != nil {
			q.log.Error("Marking job active failed", logger.MergeWithError(logger.Fields(logger.FieldJobID, id), err))
		}

		q.active.Add(1)
		q.tasks.Go(func() {
			defer q.active.Add(-1)
			q.execute(id)
		})
	}
}

// moveLoop promotes due delayed jobs every DelayedInterval.
func (q *Queue[T]) moveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(q.config.DelayedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(context.Background()); err != nil {
				q.log.Error("Moving delayed jobs failed", logger.ErrorFields("promote", err))
			}
		}
	}
}

// PromoteDue moves every delayed job whose time has come into the waiting
// index at normal priority and returns how many it moved. A job is claimed
// by removing it from the delayed index, so concurrent movers never move
// the same job twice.
func (q *Queue[T]) PromoteDue(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.store.ZRangeByScore(ctx, q.keys.index(StatusDelayed), negInf, float64(now.UnixMilli()))
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		claimed, err := q.store.ZRem(ctx, q.keys.index(StatusDelayed), id)
		if err != nil {
			return moved, err
		}
		if claimed == 0 {
			continue
		}
		if err := q.promote(ctx, id, now); err != nil {
			q.log.Warn("Promoting delayed job failed", logger.MergeWithError(logger.Fields(logger.FieldJobID, id), err))
			continue
		}
		moved++
	}
	return moved, nil
}

func (q *Queue[T]) promote(ctx context.Context, id string, now time.Time) error {
	q.mutate.Lock()
	defer q.mutate.Unlock()

	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if err := job.transition(StatusWaiting); err != nil {
		return err
	}
	job.ScheduledAt = nil
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, q.keys.index(StatusWaiting), waitingScore(PriorityNormal, now.UnixMilli()), id)
}

// execute runs one popped job to its next state. The job id leaves the
// active index whatever happens.
func (q *Queue[T]) execute(id string) {
	ctx, span := observability.StartSpan(context.Background(), observability.SpanJobExecute)
	span.SetAttributes(attribute.String(observability.AttrQueue, q.name), attribute.String(observability.AttrJobID, id))
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	defer func() {
		if _, err := q.store.ZRem(ctx, q.keys.index(StatusActive), id); err != nil {
			q.log.Error("Clearing active job failed", logger.MergeWithError(logger.Fields(logger.FieldJobID, id), err))
		}
	}()

	job, ev, err := q.start(ctx, id)
	q.emit(ctx, ev)
	if err != nil {
		spanErr = err
		if !errors.Is(err, ErrJobNotFound) {
			q.log.Error("Starting job failed", logger.MergeWithError(logger.Fields(logger.FieldJobID, id), err))
		}
		return
	}
	if job == nil {
		spanErr = ErrNoProcessor
		return
	}
	span.SetAttributes(
		attribute.String(observability.AttrJobName, job.Name),
		attribute.Int(observability.AttrAttempt, job.Attempts),
	)
	if link, ok := observability.LinkTrace(job.Trace); ok {
		span.AddLink(link)
	}

	handler, _ := q.handler(job.Name)
	q.metrics.RecordJobStart(ctx, q.name)
	began := time.Now()

	result, runErr := resilience.WithTimeout(ctx, job.Options.Timeout, func(ctx context.Context) (any, error) {
		return handler(ctx, job)
	})
	if errors.Is(runErr, resilience.ErrTimeout) {
		runErr = fmt.Errorf("%w after %s", ErrJobTimeout, job.Options.Timeout)
	}
	spanErr = runErr

	outcome, ev, err := q.finish(ctx, id, result, runErr)
	q.emit(ctx, ev)
	q.metrics.RecordJobEnd(ctx, q.name, job.Name, outcome, time.Since(began))
	span.SetAttributes(attribute.String(observability.AttrOutcome, outcome))
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		q.log.Error("Recording job outcome failed", logger.MergeWithError(logger.JobFields(q.name, id, job.Name), err))
	}
}

// start marks the job active. When no handler is registered it fails the
// job permanently and returns a nil job.
func (q *Queue[T]) start(ctx context.Context, id string) (*Job[T], *Event, error) {
	q.mutate.Lock()
	defer q.mutate.Unlock()

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if _, ok := q.handler(job.Name); !ok {
		cause := apperrors.NoProcessor(job.Name).WithCause(ErrNoProcessor)
		if err := q.failLocked(ctx, job, cause); err != nil {
			return nil, nil, err
		}
		q.log.Warn("Job failed permanently", logger.MergeWithError(logger.JobFields(q.name, id, job.Name), cause))
		return nil, q.event(job, EventFailed, cause, 0), nil
	}

	if err := job.transition(StatusActive); err != nil {
		return nil, nil, err
	}
	now := q.now()
	job.Attempts++
	job.ProcessedAt = &now
	if err := q.save(ctx, job); err != nil {
		return nil, nil, err
	}
	return job, nil, nil
}

// finish records the handler outcome on a freshly loaded copy of the job so
// progress written by the handler is kept. A job removed mid-flight stays
// removed.
func (q *Queue[T]) finish(ctx context.Context, id string, result any, runErr error) (string, *Event, error) {
	q.mutate.Lock()
	defer q.mutate.Unlock()

	job, err := q.load(ctx, id)
	if err != nil {
		return "removed", nil, err
	}
	log := q.log.WithContext(ctx)
	fields := logger.JobFields(q.name, id, job.Name)
	fields[logger.FieldAttempt] = job.Attempts

	if runErr == nil {
		if err := q.completeLocked(ctx, job, result, fields); err != nil {
			return "error", nil, err
		}
		log.Debug("Job completed", fields)
		return string(StatusCompleted), q.event(job, EventCompleted, nil, 0), nil
	}

	if job.Attempts < job.MaxAttempts {
		delay := job.Options.Backoff.After(job.Attempts)
		if err := q.delayLocked(ctx, job, runErr, delay); err != nil {
			return "error", nil, err
		}
		fields[logger.FieldDelay] = delay.Milliseconds()
		log.Warn("Job failed, retrying", logger.MergeWithError(fields, runErr))
		return "retrying", q.event(job, EventRetrying, runErr, delay), nil
	}

	if err := q.failLocked(ctx, job, runErr); err != nil {
		return "error", nil, err
	}
	log.Error("Job failed", logger.MergeWithError(fields, runErr))
	return string(StatusFailed), q.event(job, EventFailed, runErr, 0), nil
}

func (q *Queue[T]) completeLocked(ctx context.Context, job *Job[T], result any, fields map[string]any) error {
	if err := job.transition(StatusCompleted); err != nil {
		return err
	}
	now := q.now()
	job.FinishedAt = &now
	job.Progress = 100
	job.FailedReason = ""
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			q.log.Warn("Return value is not JSON encodable", logger.MergeWithError(fields, err))
		} else {
			job.ReturnValue = raw
		}
	}

	if job.Options.RemoveOnComplete {
		return q.removeLocked(ctx, job.ID)
	}
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, q.keys.index(StatusCompleted), float64(now.UnixMilli()), job.ID)
}

func (q *Queue[T]) delayLocked(ctx context.Context, job *Job[T], cause error, delay time.Duration) error {
	if err := job.transition(StatusDelayed); err != nil {
		return err
	}
	due := q.now().Add(delay)
	job.ScheduledAt = &due
	job.FailedReason = apperrors.Reason(cause)
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, q.keys.index(StatusDelayed), float64(due.UnixMilli()), job.ID)
}

func (q *Queue[T]) failLocked(ctx context.Context, job *Job[T], cause error) error {
	if err := job.transition(StatusFailed); err != nil {
		return err
	}
	now := q.now()
	job.FinishedAt = &now
	job.FailedReason = apperrors.Reason(cause)

	if job.Options.RemoveOnFail {
		return q.removeLocked(ctx, job.ID)
	}
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, q.keys.index(StatusFailed), float64(now.UnixMilli()), job.ID)
}

// sleep waits for d or until stop closes; it reports false on stop.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
