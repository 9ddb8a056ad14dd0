package resilience

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBulkheadFull is matched by every *BulkheadFullError.
var ErrBulkheadFull = errors.New("bulkhead is full")

// BulkheadFullError is returned when neither a slot nor a wait position is free.
type BulkheadFullError struct {
	Name string
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("bulkhead %q is full", e.Name)
}

// Is reports whether target is ErrBulkheadFull.
func (e *BulkheadFullError) Is(target error) bool { return target == ErrBulkheadFull }

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead in errors, logs and metrics.
	Name string `yaml:"name" mapstructure:"name"`
	// MaxConcurrent is the maximum number of calls running at once.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
	// MaxWaiting is the maximum number of callers queued for a slot. Zero
	// selects the default of 100; NoWaiting (-1) rejects as soon as every
	// slot is taken.
	MaxWaiting int `yaml:"max_waiting" mapstructure:"max_waiting" validate:"gte=-1"`
	// OnReject is called when a call is rejected for capacity.
	OnReject func(name string) `yaml:"-" mapstructure:"-"`
	// OnAcquire is called when a call obtains a slot.
	OnAcquire func(name string) `yaml:"-" mapstructure:"-"`
	// OnRelease is called when a call gives its slot back.
	OnRelease func(name string) `yaml:"-" mapstructure:"-"`
}

// DefaultBulkheadConfig returns sensible defaults.
func DefaultBulkheadConfig(name string) BulkheadConfig {
	return BulkheadConfig{
		Name:          name,
		MaxConcurrent: 10,
		MaxWaiting:    100,
	}
}

// NoWaiting as MaxWaiting disables the wait queue.
const NoWaiting = -1

// ApplyDefaults fills zero-valued limits. It is idempotent: NoWaiting is
// kept as is, so configs may be defaulted more than once.
func (c *BulkheadConfig) ApplyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	switch {
	case c.MaxWaiting == 0:
		c.MaxWaiting = 100
	case c.MaxWaiting < 0:
		c.MaxWaiting = NoWaiting
	}
}

// waitLimit is how many callers may queue.
func (c *BulkheadConfig) waitLimit() int { return max(c.MaxWaiting, 0) }

// BulkheadStats is a snapshot of bulkhead occupancy.
type BulkheadStats struct {
	Name          string `json:"name"`
	Running       int    `json:"running"`
	Waiting       int    `json:"waiting"`
	Available     int    `json:"available"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxWaiting    int    `json:"max_waiting"`
}

type bulkheadWaiter struct {
	ready  chan struct{}
	queued bool
}

// Bulkhead caps concurrent calls to a named resource. Callers beyond the cap
// wait in a FIFO queue of bounded length; beyond that they are rejected.
// A finishing call hands its slot straight to the oldest waiter.
type Bulkhead struct {
	config BulkheadConfig

	mu      sync.Mutex
	running int
	waiters *list.List
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	config.ApplyDefaults()
	return &Bulkhead{
		config:  config,
		waiters: list.New(),
	}
}

// Name returns the bulkhead name.
func (b *Bulkhead) Name() string { return b.config.Name }

// Execute runs fn once a slot is held. It returns a *BulkheadFullError when
// the wait queue is full, or ctx.Err() if the caller gives up while queued.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()
	return fn(ctx)
}

// ExecuteBulkhead runs a value-returning function within the bulkhead.
func ExecuteBulkhead[T any](ctx context.Context, b *Bulkhead, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Stats returns current occupancy.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadStats{
		Name:          b.config.Name,
		Running:       b.running,
		Waiting:       b.waiters.Len(),
		Available:     b.config.MaxConcurrent - b.running,
		MaxConcurrent: b.config.MaxConcurrent,
		MaxWaiting:    b.config.waitLimit(),
	}
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.running < b.config.MaxConcurrent {
		b.running++
		b.mu.Unlock()
		b.notify(b.config.OnAcquire)
		return nil
	}
	if b.waiters.Len() >= b.config.waitLimit() {
		b.mu.Unlock()
		b.notify(b.config.OnReject)
		return &BulkheadFullError{Name: b.config.Name}
	}
	w := &bulkheadWaiter{ready: make(chan struct{}), queued: true}
	elem := b.waiters.PushBack(w)
	b.mu.Unlock()

	select {
	case <-w.ready:
		b.notify(b.config.OnAcquire)
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.queued {
			b.waiters.Remove(elem)
			w.queued = false
			b.mu.Unlock()
			return ctx.Err()
		}
		b.mu.Unlock()
		// The slot was handed over while we were giving up; pass it on.
		b.release()
		return ctx.Err()
	}
}

// release frees the caller's slot. Dequeueing the next waiter and keeping
// running incremented for it happen in the same critical section.
func (b *Bulkhead) release() {
	b.mu.Lock()
	if front := b.waiters.Front(); front != nil {
		w := b.waiters.Remove(front).(*bulkheadWaiter)
		w.queued = false
		close(w.ready)
	} else {
		b.running--
	}
	b.mu.Unlock()
	b.notify(b.config.OnRelease)
}

func (b *Bulkhead) notify(fn func(string)) {
	if fn != nil {
		fn(b.config.Name)
	}
}
