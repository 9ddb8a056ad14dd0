package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
)

// Errors recorded on jobs or returned by queue operations.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoProcessor = errors.New("no processor for job type")
	ErrJobTimeout  = errors.New("job timed out")
)

// Handler processes one job. The returned value is stored JSON-encoded as
// the job's return value. The context carries the job timeout as a
// deadline, but the queue stops waiting at the timeout whether or not the
// handler honours it.
type Handler[T any] func(ctx context.Context, job *Job[T]) (any, error)

// Stats counts jobs per index.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// BulkJob is one entry for AddBulk.
type BulkJob[T any] struct {
	Name    string
	Data    T
	Options AddOptions
}

// BulkResult is the outcome of one AddBulk entry.
type BulkResult[T any] struct {
	Job *Job[T]
	Err error
}

// Queue is a priority and delayed job queue whose state lives in a Store.
// Handlers are registered per job name and run by the processing loop.
type Queue[T any] struct {
	name    string
	store   Store
	keys    keys
	config  Config
	log     *logger.Logger
	metrics *observability.Metrics
	events  *dispatcher
	now     func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]Handler[T]

	// mutate serializes read-modify-write of job payloads within this process.
	mutate sync.Mutex

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	loops   sync.WaitGroup
	tasks   sync.WaitGroup
	active  atomic.Int64
}

// New creates a queue named name on store. Processing does not start until
// StartProcessing is called.
func New[T any](name string, store Store, opts ...Option) *Queue[T] {
	o := newOptions(opts)
	log := o.log.WithComponent("queue").WithFields(logger.Fields(logger.FieldQueue, name))
	var events *dispatcher
	if _, nop := o.events.(nopSink); !nop {
		events = newDispatcher(o.events, o.config.EventBuffer, name, log, o.metrics)
	}
	return &Queue[T]{
		name:     name,
		store:    store,
		keys:     newKeys(name),
		config:   o.config,
		log:      log,
		metrics:  o.metrics,
		events:   events,
		now:      o.now,
		handlers: make(map[string]Handler[T]),
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Config returns the loop configuration in effect.
func (q *Queue[T]) Config() Config { return q.config }

// Add enqueues a job. With a delay the job goes to the delayed index due at
// now+delay; otherwise it waits in priority order. Execution failures are
// recorded on the job and never returned here.
func (q *Queue[T]) Add(ctx context.Context, name string, data T, opts AddOptions) (*Job[T], error) {
	if name == "" {
		return nil, apperrors.MissingField("name")
	}
	jo, attempts, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanJobAdd, trace.WithAttributes(
		attribute.String(observability.AttrQueue, q.name),
		attribute.String(observability.AttrJobName, name),
		attribute.String(observability.AttrPriority, string(jo.Priority)),
	))
	defer func() { observability.EndSpan(span, err) }()

	now := q.now()
	job := &Job[T]{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Name:        name,
		Data:        data,
		Attempts:    0,
		MaxAttempts: attempts,
		CreatedAt:   now,
		Options:     jo,
		Trace:       observability.InjectTrace(ctx),
	}
	span.SetAttributes(attribute.String(observability.AttrJobID, job.ID))

	if jo.Delay > 0 {
		due := now.Add(jo.Delay)
		job.ScheduledAt = &due
		_ = job.transition(StatusDelayed)
	} else {
		_ = job.transition(StatusWaiting)
	}

	if err = q.save(ctx, job); err != nil {
		return nil, err
	}
	if err = q.store.ZAdd(ctx, q.keys.jobs(), float64(now.UnixMilli()), job.ID); err != nil {
		return nil, apperrors.StoreError(err)
	}
	if job.Status == StatusDelayed {
		err = q.store.ZAdd(ctx, q.keys.index(StatusDelayed), float64(job.ScheduledAt.UnixMilli()), job.ID)
	} else {
		err = q.store.ZAdd(ctx, q.keys.index(StatusWaiting), waitingScore(jo.Priority, now.UnixMilli()), job.ID)
	}
	if err != nil {
		return nil, apperrors.StoreError(err)
	}

	q.metrics.RecordJobAdded(ctx, q.name, name)
	q.log.Debug("Job added", logger.Fields(
		logger.FieldJobID, job.ID,
		logger.FieldJobName, name,
		logger.FieldStatus, string(job.Status),
	))
	q.emit(ctx, q.event(job, EventAdded, nil, 0))
	return job, nil
}

// AddBulk adds jobs one after another. Each result stands alone; an early
// failure does not stop later entries.
func (q *Queue[T]) AddBulk(ctx context.Context, jobs []BulkJob[T]) []BulkResult[T] {
	out := make([]BulkResult[T], len(jobs))
	for i, b := range jobs {
		job, err := q.Add(ctx, b.Name, b.Data, b.Options)
		out[i] = BulkResult[T]{Job: job, Err: err}
	}
	return out
}

// GetJob returns the job with id, or ErrJobNotFound.
func (q *Queue[T]) GetJob(ctx context.Context, id string) (*Job[T], error) {
	return q.load(ctx, id)
}

// GetJobs returns the jobs in the given statuses, in status order and
// within each status by index order. start and end are inclusive ranks
// applied per status; -1 means the last. No statuses means all.
func (q *Queue[T]) GetJobs(ctx context.Context, statuses []Status, start, end int64) ([]*Job[T], error) {
	if len(statuses) == 0 {
		statuses = AllStatuses
	}
	var out []*Job[T]
	for _, s := range statuses {
		if !s.Valid() {
			return nil, apperrors.InvalidInput("status", fmt.Sprintf("unknown status %q", s))
		}
		ids, err := q.store.ZRange(ctx, q.keys.index(s), start, end)
		if err != nil {
			return nil, apperrors.StoreError(err)
		}
		for _, id := range ids {
			job, err := q.load(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, job)
		}
	}
	return out, nil
}

// Process registers handler for jobs named name, replacing any earlier one.
func (q *Queue[T]) Process(name string, handler Handler[T]) {
	q.handlersMu.Lock()
	q.handlers[name] = handler
	q.handlersMu.Unlock()
}

func (q *Queue[T]) handler(name string) (Handler[T], bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[name]
	return h, ok
}

// UpdateProgress sets a job's progress, clamped to [0,100].
func (q *Queue[T]) UpdateProgress(ctx context.Context, id string, progress int) error {
	q.mutate.Lock()
	defer q.mutate.Unlock()

	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	job.Progress = clampProgress(progress)
	return q.save(ctx, job)
}

// RemoveJob deletes a job and its index entries. Removing a missing job is
// not an error.
func (q *Queue[T]) RemoveJob(ctx context.Context, id string) error {
	q.mutate.Lock()
	defer q.mutate.Unlock()
	return q.removeLocked(ctx, id)
}

func (q *Queue[T]) removeLocked(ctx context.Context, id string) error {
	if err := q.store.Del(ctx, q.keys.job(id)); err != nil {
		return apperrors.StoreError(err)
	}
	for _, s := range AllStatuses {
		if _, err := q.store.ZRem(ctx, q.keys.index(s), id); err != nil {
			return apperrors.StoreError(err)
		}
	}
	if _, err := q.store.ZRem(ctx, q.keys.jobs(), id); err != nil {
		return apperrors.StoreError(err)
	}
	return nil
}

// GetStats counts jobs per status.
func (q *Queue[T]) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, s := range AllStatuses {
		n, err := q.store.ZCard(ctx, q.keys.index(s))
		if err != nil {
			return Stats{}, apperrors.StoreError(err)
		}
		switch s {
		case StatusWaiting:
			st.Waiting = n
		case StatusActive:
			st.Active = n
		case StatusDelayed:
			st.Delayed = n
		case StatusCompleted:
			st.Completed = n
		case StatusFailed:
			st.Failed = n
		}
	}
	return st, nil
}

// Pause sets the queue's paused flag. The processing loop ignores it
// unless Config.RespectPause is set.
func (q *Queue[T]) Pause(ctx context.Context) error {
	if err := q.store.Set(ctx, q.keys.paused(), []byte("1")); err != nil {
		return apperrors.StoreError(err)
	}
	q.log.Info("Queue paused")
	return nil
}

// Resume clears the paused flag.
func (q *Queue[T]) Resume(ctx context.Context) error {
	if err := q.store.Del(ctx, q.keys.paused()); err != nil {
		return apperrors.StoreError(err)
	}
	q.log.Info("Queue resumed")
	return nil
}

// IsPaused reads the paused flag.
func (q *Queue[T]) IsPaused(ctx context.Context) (bool, error) {
	_, err := q.store.Get(ctx, q.keys.paused())
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.StoreError(err)
	}
	return true, nil
}

// Clean removes completed or failed jobs that finished more than olderThan
// ago and returns how many were removed.
func (q *Queue[T]) Clean(ctx context.Context, status Status, olderThan time.Duration) (int, error) {
	if status != StatusCompleted && status != StatusFailed {
		return 0, apperrors.InvalidInput("status", "only completed or failed jobs can be cleaned")
	}
	cutoff := q.now().Add(-olderThan).UnixMilli()
	ids, err := q.store.ZRangeByScore(ctx, q.keys.index(status), negInf, float64(cutoff))
	if err != nil {
		return 0, apperrors.StoreError(err)
	}

	q.mutate.Lock()
	defer q.mutate.Unlock()
	for i, id := range ids {
		if err := q.removeLocked(ctx, id); err != nil {
			return i, err
		}
	}
	if len(ids) > 0 {
		q.log.Info("Queue cleaned", logger.Fields(logger.FieldStatus, string(status), "removed", len(ids)))
	}
	return len(ids), nil
}

// Empty removes every job of the queue. The paused flag is kept.
func (q *Queue[T]) Empty(ctx context.Context) error {
	q.mutate.Lock()
	defer q.mutate.Unlock()

	ids, err := q.store.ZRange(ctx, q.keys.jobs(), 0, -1)
	if err != nil {
		return apperrors.StoreError(err)
	}
	keys := make([]string, 0, len(ids)+len(AllStatuses)+1)
	for _, id := range ids {
		keys = append(keys, q.keys.job(id))
	}
	for _, s := range AllStatuses {
		keys = append(keys, q.keys.index(s))
	}
	keys = append(keys, q.keys.jobs())
	if err := q.store.Del(ctx, keys...); err != nil {
		return apperrors.StoreError(err)
	}
	q.log.Info("Queue emptied", logger.Fields("removed", len(ids)))
	return nil
}

func (q *Queue[T]) load(ctx context.Context, id string) (*Job[T], error) {
	raw, err := q.store.Get(ctx, q.keys.job(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, apperrors.StoreError(err)
	}
	var job Job[T]
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("decoding job %s: %w", id, err))
	}
	return &job, nil
}

func (q *Queue[T]) save(ctx context.Context, job *Job[T]) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("encoding job %s: %w", job.ID, err))
	}
	if err := q.store.Set(ctx, q.keys.job(job.ID), raw); err != nil {
		return apperrors.StoreError(err)
	}
	return nil
}

func (q *Queue[T]) event(job *Job[T], typ EventType, cause error, retryIn time.Duration) *Event {
	e := &Event{
		Type:      typ,
		Queue:     q.name,
		JobID:     job.ID,
		JobName:   job.Name,
		Attempt:   job.Attempts,
		Status:    job.Status,
		RetryIn:   retryIn,
		Timestamp: q.now(),
	}
	if cause != nil {
		e.Error = apperrors.Reason(cause)
	}
	return e
}

// emit hands e to the event dispatcher without waiting for the sink. A nil
// event is skipped.
func (q *Queue[T]) emit(ctx context.Context, e *Event) {
	if e == nil || q.events == nil {
		return
	}
	q.events.send(ctx, *e)
}

// DroppedEvents returns how many lifecycle events were dropped because the
// event buffer was full.
func (q *Queue[T]) DroppedEvents() int64 {
	if q.events == nil {
		return 0
	}
	return q.events.dropped.Load()
}
