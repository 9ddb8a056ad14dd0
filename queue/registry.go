package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/taskguard/observability"
)

// Registry owns one queue per name on a shared store. Create it once at
// startup and pass it to producers, workers and the HTTP API.
type Registry struct {
	store Store
	opts  []Option

	mu     sync.RWMutex
	queues map[string]Managed
}

// NewRegistry creates a registry whose queues use store and opts.
func NewRegistry(store Store, opts ...Option) *Registry {
	return &Registry{
		store:  store,
		opts:   opts,
		queues: make(map[string]Managed),
	}
}

// Store returns the store shared by the registry's queues.
func (r *Registry) Store() Store { return r.store }

// Open returns the queue named name, creating it on first use with the
// registry options followed by opts. Opening an existing name with a
// different payload type is an error.
func Open[T any](r *Registry, name string, opts ...Option) (*Queue[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.queues[name]; ok {
		q, ok := existing.(*Queue[T])
		if !ok {
			return nil, fmt.Errorf("queue %q is already open with payload type %T", name, existing)
		}
		return q, nil
	}

	all := append(append([]Option{}, r.opts...), opts...)
	q := New[T](name, r.store, all...)
	r.queues[name] = q
	return q, nil
}

// Lookup returns the queue named name if it has been opened.
func (r *Registry) Lookup(name string) (Managed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// Names returns the open queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// StartAll starts processing on every open queue.
func (r *Registry) StartAll() {
	for _, q := range r.all() {
		q.StartProcessing()
	}
}

// StopAll stops admission on every open queue.
func (r *Registry) StopAll() {
	for _, q := range r.all() {
		q.StopProcessing()
	}
}

// Drain stops every queue and waits for their handlers.
func (r *Registry) Drain(ctx context.Context) error {
	var errs []error
	for _, q := range r.all() {
		if err := q.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", q.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns every queue's counts keyed by name.
func (r *Registry) Stats(ctx context.Context) (map[string]Stats, error) {
	out := make(map[string]Stats)
	for _, q := range r.all() {
		st, err := q.GetStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", q.Name(), err)
		}
		out[q.Name()] = st
	}
	return out, nil
}

func (r *Registry) all() []Managed {
	r.mu.RLock()
	out := make([]Managed, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Depths reports per-queue counts for the queue gauge. Queues whose stats
// cannot be read are skipped.
func (r *Registry) Depths(ctx context.Context) []observability.QueueDepth {
	var out []observability.QueueDepth
	for _, q := range r.all() {
		st, err := q.GetStats(ctx)
		if err != nil {
			continue
		}
		out = append(out, observability.QueueDepth{
			Queue:     q.Name(),
			Waiting:   st.Waiting,
			Active:    st.Active,
			Delayed:   st.Delayed,
			Completed: st.Completed,
			Failed:    st.Failed,
		})
	}
	return out
}
