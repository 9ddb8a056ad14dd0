package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/taskguard/logger"
)

// Registry starts components in registration order and stops the started
// ones in reverse, so a component may rely on everything registered
// before it for its whole life.
type Registry struct {
	log           *logger.Logger
	stopTimeout   time.Duration
	healthTimeout time.Duration

	mu         sync.Mutex
	components []Component
	started    map[string]bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStopTimeout bounds each component's Stop. Default 10s.
func WithStopTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.stopTimeout = d }
}

// WithHealthTimeout bounds each component's Health. A check that overruns
// reports unhealthy. Default 2s.
func WithHealthTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.healthTimeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Registry{
		log:           log.WithComponent("components"),
		stopTimeout:   10 * time.Second,
		healthTimeout: 2 * time.Second,
		started:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(c.Name()) >= 0 {
		return fmt.Errorf("component %s already registered", c.Name())
	}
	r.components = append(r.components, c)
	r.log.Debug("Component registered", logger.Fields(logger.FieldComponent, c.Name()))
	return nil
}

// Get returns the component named name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.components[i]
	}
	return nil
}

func (r *Registry) indexLocked(name string) int {
	for i, c := range r.components {
		if c.Name() == name {
			return i
		}
	}
	return -1
}

// StartAll starts components that are not yet running, in order. It stops
// at the first failure and leaves the ones already started for StopAll.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("Starting components", logger.Fields("count", len(r.components)))
	for _, c := range r.components {
		name := c.Name()
		if r.started[name] {
			continue
		}
		began := time.Now()
		if err := c.Start(ctx); err != nil {
			r.log.Error("Component start failed", logger.MergeWithError(logger.Fields(logger.FieldComponent, name), err))
			return fmt.Errorf("start %s: %w", name, err)
		}
		r.started[name] = true

		fields := logger.DurationFields("start", time.Since(began))
		fields[logger.FieldComponent] = name
		if d, ok := c.(Describable); ok {
			desc := d.Describe()
			fields["type"] = desc.Type
			fields["details"] = desc.Details
		}
		r.log.Info("Component started", fields)
	}
	return nil
}

// StopAll stops started components in reverse order, each bounded by the
// stop timeout, and joins their errors. Every started component gets its
// Stop call even if an earlier one fails.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.components) - 1; i >= 0; i-- {
		c := r.components[i]
		name := c.Name()
		if !r.started[name] {
			continue
		}
		delete(r.started, name)

		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		err := c.Stop(stopCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			r.log.Error("Component stop failed", logger.MergeWithError(logger.Fields(logger.FieldComponent, name), err))
			continue
		}
		r.log.Info("Component stopped", logger.Fields(logger.FieldComponent, name))
	}
	return errors.Join(errs...)
}

// HealthAll checks every component concurrently and returns the results in
// registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.Lock()
	components := append([]Component(nil), r.components...)
	r.mu.Unlock()

	results := make([]Health, len(components))
	var wg sync.WaitGroup
	for i, c := range components {
		wg.Go(func() { results[i] = r.check(ctx, c) })
	}
	wg.Wait()
	return results
}

func (r *Registry) check(ctx context.Context, c Component) Health {
	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()

	began := time.Now()
	done := make(chan Health, 1)
	go func() { done <- c.Health(ctx) }()
	var h Health
	select {
	case h = <-done:
	case <-ctx.Done():
		h = Health{Name: c.Name(), Status: StatusUnhealthy, Message: "health check timed out"}
	}
	h.LatencyMs = float64(time.Since(began).Microseconds()) / 1000
	return h
}
