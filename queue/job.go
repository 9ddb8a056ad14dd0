package queue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllStatuses lists every status in index order.
var AllStatuses = []Status{StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowed lists the legal transitions. A new job starts at "".
//
//	"" -> waiting | delayed
//	waiting -> active | failed (no processor)
//	active -> completed | delayed (retry) | failed
//	delayed -> waiting
var allowed = map[Status][]Status{
	"":            {StatusWaiting, StatusDelayed},
	StatusWaiting: {StatusActive, StatusFailed},
	StatusActive:  {StatusCompleted, StatusDelayed, StatusFailed},
	StatusDelayed: {StatusWaiting},
}

// TransitionError reports an illegal status change.
type TransitionError struct {
	JobID    string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: illegal transition %q -> %q", e.JobID, e.From, e.To)
}

// Priority orders waiting jobs. Critical is served first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the sort key for p; lower ranks are served first. Unknown
// priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// Valid reports whether p is a known priority. The empty priority is valid
// and means normal.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the delay before a failed job is retried.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// After returns the delay following the given number of attempts:
// Delay for fixed, Delay*2^(attempts-1) for exponential.
func (b Backoff) After(attempts int) time.Duration {
	if b.Type != BackoffExponential || attempts <= 1 {
		return b.Delay
	}
	d := float64(b.Delay) * math.Pow(2, float64(attempts-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// JobOptions is the snapshot of options a job was added with.
type JobOptions struct {
	Priority         Priority      `json:"priority"`
	Delay            time.Duration `json:"delay,omitempty"`
	Backoff          Backoff       `json:"backoff"`
	Timeout          time.Duration `json:"timeout"`
	RemoveOnComplete bool          `json:"remove_on_complete,omitempty"`
	RemoveOnFail     bool          `json:"remove_on_fail,omitempty"`
}

// Job is one unit of work carrying data of type T.
type Job[T any] struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         T               `json:"data"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	ReturnValue  json.RawMessage `json:"return_value,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	Options      JobOptions      `json:"options"`
	// Trace is the W3C trace context of the span that added the job.
	Trace map[string]string `json:"trace,omitempty"`
}

// RawJob is a job whose data is left encoded. It is what queue-agnostic
// callers such as the HTTP API see.
type RawJob = Job[json.RawMessage]

// transition moves the job to status to if the lifecycle allows it.
func (j *Job[T]) transition(to Status) error {
	for _, s := range allowed[j.Status] {
		if s == to {
			j.Status = to
			return nil
		}
	}
	return &TransitionError{JobID: j.ID, From: j.Status, To: to}
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}
