package queue

import (
	"fmt"
	"time"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
)

// Defaults applied to AddOptions.
const (
	DefaultAttempts = 3
	DefaultTimeout  = 30 * time.Second
)

// DefaultBackoff is exponential starting at one second.
var DefaultBackoff = Backoff{Type: BackoffExponential, Delay: time.Second}

// AddOptions controls how a job is enqueued and retried.
type AddOptions struct {
	Priority         Priority
	Delay            time.Duration
	Attempts         int
	Backoff          *Backoff
	Timeout          time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
}

func (o AddOptions) resolve() (JobOptions, int, error) {
	if !o.Priority.Valid() {
		return JobOptions{}, 0, apperrors.InvalidInput("priority", fmt.Sprintf("unknown priority %q", o.Priority))
	}
	if o.Delay < 0 {
		return JobOptions{}, 0, apperrors.InvalidInput("delay", "must not be negative")
	}
	if o.Attempts < 0 {
		return JobOptions{}, 0, apperrors.InvalidInput("attempts", "must not be negative")
	}
	if o.Timeout < 0 {
		return JobOptions{}, 0, apperrors.InvalidInput("timeout", "must not be negative")
	}

	jo := JobOptions{
		Priority:         o.Priority,
		Delay:            o.Delay,
		Backoff:          DefaultBackoff,
		Timeout:          o.Timeout,
		RemoveOnComplete: o.RemoveOnComplete,
		RemoveOnFail:     o.RemoveOnFail,
	}
	if jo.Priority == "" {
		jo.Priority = PriorityNormal
	}
	if jo.Timeout == 0 {
		jo.Timeout = DefaultTimeout
	}
	if o.Backoff != nil {
		b := *o.Backoff
		if b.Type != BackoffFixed && b.Type != BackoffExponential {
			return JobOptions{}, 0, apperrors.InvalidInput("backoff.type", fmt.Sprintf("unknown backoff type %q", b.Type))
		}
		if b.Delay < 0 {
			return JobOptions{}, 0, apperrors.InvalidInput("backoff.delay", "must not be negative")
		}
		jo.Backoff = b
	}

	attempts := o.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	return jo, attempts, nil
}

// Config tunes the processing loop.
type Config struct {
	// Concurrency caps handlers running at once in this process.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=0"`
	// PollInterval is how long the loop sleeps when there is nothing to do.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gte=0"`
	// DelayedInterval is the cadence of the delayed-job mover.
	DelayedInterval time.Duration `yaml:"delayed_interval" mapstructure:"delayed_interval" validate:"gte=0"`
	// RespectPause makes the loop stop popping work while the queue is paused.
	// Off by default: pause is an advisory flag for callers.
	RespectPause bool `yaml:"respect_pause" mapstructure:"respect_pause"`
	// EventBuffer is how many lifecycle events may wait for the sink before
	// new ones are dropped.
	EventBuffer int `yaml:"event_buffer" mapstructure:"event_buffer" validate:"gte=0"`
}

// DefaultConfig returns concurrency 5, a 100ms idle poll, a 1s mover
// cadence and room for 1024 pending events.
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		PollInterval:    100 * time.Millisecond,
		DelayedInterval: time.Second,
		EventBuffer:     1024,
	}
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DelayedInterval <= 0 {
		c.DelayedInterval = d.DelayedInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	config  Config
	log     *logger.Logger
	metrics *observability.Metrics
	events  EventSink
	now     func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		config:  DefaultConfig(),
		log:     logger.NewNop(),
		metrics: observability.NewNopMetrics(),
		events:  nopSink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.config.ApplyDefaults()
	return o
}

// WithConfig sets the loop configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithConcurrency overrides Config.Concurrency.
func WithConcurrency(n int) Option {
	return func(o *options) { o.config.Concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithEventSink sets where job lifecycle events are published.
func WithEventSink(s EventSink) Option {
	return func(o *options) {
		if s != nil {
			o.events = s
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
