package resilience

import (
	"sort"
	"sync"
)

// BreakerRegistry hands out one shared CircuitBreaker per name. Create it
// once at startup and pass it to whatever needs breakers.
type BreakerRegistry struct {
	defaults CircuitBreakerConfig

	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	observers []func(name string, from, to State)
}

// NewBreakerRegistry creates a registry whose breakers use defaults unless
// Get is given an explicit config.
func NewBreakerRegistry(defaults CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Observe registers fn to be told about state changes of every breaker
// created after the call.
func (r *BreakerRegistry) Observe(fn func(name string, from, to State)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Get returns the breaker for name, creating it on first use. Only the
// first config supplied for a name takes effect.
func (r *BreakerRegistry) Get(name string, cfg ...CircuitBreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	if len(cfg) > 0 {
		config = cfg[0]
	}
	config.Name = name
	if observers := append([]func(string, State, State){}, r.observers...); len(observers) > 0 {
		own := config.OnStateChange
		config.OnStateChange = func(name string, from, to State) {
			if own != nil {
				own(name, from, to)
			}
			for _, o := range observers {
				o(name, from, to)
			}
		}
	}

	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker for name without creating it.
func (r *BreakerRegistry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Reset forces the named breaker closed. It reports false for unknown names.
func (r *BreakerRegistry) Reset(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll forces every breaker closed.
func (r *BreakerRegistry) ResetAll() {
	for _, cb := range r.snapshot() {
		cb.Reset()
	}
}

// Status returns the named breaker's status.
func (r *BreakerRegistry) Status(name string) (CircuitBreakerStatus, bool) {
	cb, ok := r.Lookup(name)
	if !ok {
		return CircuitBreakerStatus{}, false
	}
	return cb.Status(), true
}

// AllStatuses returns every breaker's status, sorted by name.
func (r *BreakerRegistry) AllStatuses() []CircuitBreakerStatus {
	breakers := r.snapshot()
	out := make([]CircuitBreakerStatus, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Status())
	}
	return out
}

func (r *BreakerRegistry) snapshot() []*CircuitBreaker {
	r.mu.RLock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// BulkheadRegistry hands out one shared Bulkhead per name.
type BulkheadRegistry struct {
	defaults BulkheadConfig

	mu        sync.RWMutex
	bulkheads map[string]*Bulkhead
}

// NewBulkheadRegistry creates a registry whose bulkheads use defaults
// unless Get is given an explicit config.
func NewBulkheadRegistry(defaults BulkheadConfig) *BulkheadRegistry {
	return &BulkheadRegistry{
		defaults:  defaults,
		bulkheads: make(map[string]*Bulkhead),
	}
}

// Get returns the bulkhead for name, creating it on first use.
func (r *BulkheadRegistry) Get(name string, cfg ...BulkheadConfig) *Bulkhead {
	r.mu.RLock()
	bh, ok := r.bulkheads[name]
	r.mu.RUnlock()
	if ok {
		return bh
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bh, ok := r.bulkheads[name]; ok {
		return bh
	}
	config := r.defaults
	if len(cfg) > 0 {
		config = cfg[0]
	}
	config.Name = name
	bh = NewBulkhead(config)
	r.bulkheads[name] = bh
	return bh
}

// Stats returns the named bulkhead's occupancy.
func (r *BulkheadRegistry) Stats(name string) (BulkheadStats, bool) {
	r.mu.RLock()
	bh, ok := r.bulkheads[name]
	r.mu.RUnlock()
	if !ok {
		return BulkheadStats{}, false
	}
	return bh.Stats(), true
}

// AllStats returns every bulkhead's occupancy, sorted by name.
func (r *BulkheadRegistry) AllStats() []BulkheadStats {
	r.mu.RLock()
	out := make([]BulkheadStats, 0, len(r.bulkheads))
	for _, bh := range r.bulkheads {
		out = append(out, bh.Stats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
