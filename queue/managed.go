package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kbukum/taskguard/errors"
)

// Managed is the payload-agnostic view of a queue used by registries,
// lifecycle components and the HTTP API.
type Managed interface {
	Name() string
	StartProcessing()
	StopProcessing()
	IsRunning() bool
	Drain(ctx context.Context) error
	DroppedEvents() int64

	GetStats(ctx context.Context) (Stats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
	Clean(ctx context.Context, status Status, olderThan time.Duration) (int, error)
	Empty(ctx context.Context) error
	RemoveJob(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int) error

	AddRaw(ctx context.Context, name string, data json.RawMessage, opts AddOptions) (*RawJob, error)
	GetRawJob(ctx context.Context, id string) (*RawJob, error)
	GetRawJobs(ctx context.Context, statuses []Status, start, end int64) ([]*RawJob, error)
}

var _ Managed = (*Queue[struct{}])(nil)

// AddRaw decodes data into the queue's payload type and adds the job.
func (q *Queue[T]) AddRaw(ctx context.Context, name string, data json.RawMessage, opts AddOptions) (*RawJob, error) {
	var payload T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, apperrors.InvalidInput("data", err.Error())
		}
	}
	job, err := q.Add(ctx, name, payload, opts)
	if err != nil {
		return nil, err
	}
	return toRaw(job)
}

// GetRawJob returns a job with its data left encoded.
func (q *Queue[T]) GetRawJob(ctx context.Context, id string) (*RawJob, error) {
	raw, err := q.store.Get(ctx, q.keys.job(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, apperrors.StoreError(err)
	}
	var job RawJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("decoding job %s: %w", id, err))
	}
	return &job, nil
}

// GetRawJobs is GetJobs with data left encoded.
func (q *Queue[T]) GetRawJobs(ctx context.Context, statuses []Status, start, end int64) ([]*RawJob, error) {
	jobs, err := q.GetJobs(ctx, statuses, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]*RawJob, 0, len(jobs))
	for _, j := range jobs {
		r, err := toRaw(j)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toRaw[T any](job *Job[T]) (*RawJob, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	var r RawJob
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, apperrors.Internal(err)
	}
	return &r, nil
}
