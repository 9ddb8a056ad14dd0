package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls without invoking the dependency.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so statuses serialize readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is matched by every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker short-circuits a call.
// The dependency was not invoked.
type CircuitOpenError struct {
	Name      string
	NextRetry time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.NextRetry.IsZero() {
		return fmt.Sprintf("circuit breaker %q is open", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.NextRetry.UTC().Format(time.RFC3339Nano))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this breaker in errors, logs and metrics.
	Name string `yaml:"name" mapstructure:"name"`
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold" validate:"gte=0"`
	// Timeout bounds how long Execute waits for the protected call.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout" validate:"gte=0"`
	// HalfOpenMaxProbes caps concurrent calls admitted while half-open.
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" mapstructure:"half_open_max_probes" validate:"gte=0"`
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns the default thresholds.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:              name,
		FailureThreshold:  5,
		SuccessThreshold:  3,
		Timeout:           30 * time.Second,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// ApplyDefaults fills zero-valued fields with the defaults.
func (c *CircuitBreakerConfig) ApplyDefaults() {
	d := DefaultCircuitBreakerConfig(c.Name)
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = d.HalfOpenMaxProbes
	}
}

// CircuitBreakerStatus is a read-only snapshot of a breaker.
type CircuitBreakerStatus struct {
	Name        string     `json:"name"`
	State       State      `json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	NextRetry   *time.Time `json:"next_retry,omitempty"`
}

type transition struct {
	from, to State
}

// CircuitBreaker detects a failing dependency and short-circuits calls to it.
//
//	closed    --FailureThreshold consecutive failures--> open
//	open      --first call at/after NextRetry-----------> half-open
//	half-open --SuccessThreshold consecutive successes--> closed
//	half-open --any failure-----------------------------> open
//
// The open to half-open transition is lazy; there is no background timer.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	nextRetry   time.Time
	pending     []transition
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.ApplyDefaults()
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Execute runs fn through the breaker. The wait for fn is bounded by the
// configured Timeout; on expiry a *TimeoutError is returned and counted as
// a failure while fn keeps running detached. fn's own error is returned
// unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}

	err = raceTimeout(ctx, cb.config.Timeout, "circuit breaker "+cb.config.Name, fn)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The caller gave up; that says nothing about the dependency.
		cb.abandon(gen)
		return err
	}
	cb.record(gen, err)
	return err
}

// ExecuteBreaker runs a value-returning function through the breaker.
func ExecuteBreaker[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		mu.Lock()
		result = v
		mu.Unlock()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

// State returns the stored state. It does not perform the lazy
// open to half-open transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := CircuitBreakerStatus{
		Name:      cb.config.Name,
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.successes,
	}
	if !cb.lastFailure.IsZero() {
		lf := cb.lastFailure
		st.LastFailure = &lf
	}
	if cb.state == StateOpen {
		nr := cb.nextRetry
		st.NextRetry = &nr
	}
	return st
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	notify := cb.drainLocked()
	cb.mu.Unlock()
	cb.fire(notify)
}

// admit decides whether a call may proceed and returns the generation it
// was admitted under.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.nextRetry) {
			err := &CircuitOpenError{Name: cb.config.Name, NextRetry: cb.nextRetry}
			cb.mu.Unlock()
			return 0, err
		}
		cb.transitionLocked(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			err := &CircuitOpenError{Name: cb.config.Name}
			notify := cb.drainLocked()
			cb.mu.Unlock()
			cb.fire(notify)
			return 0, err
		}
		cb.probes++
	}

	gen := cb.generation
	notify := cb.drainLocked()
	cb.mu.Unlock()
	cb.fire(notify)
	return gen, nil
}

// record applies the outcome of an admitted call.
func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()

	sameEpoch := gen == cb.generation
	if cb.state == StateHalfOpen && sameEpoch {
		cb.probes--
	}

	// Results from an earlier epoch only matter if the circuit has since
	// closed; open and fresh half-open epochs ignore stragglers.
	if sameEpoch || cb.state == StateClosed {
		if err != nil {
			cb.onFailureLocked()
		} else {
			cb.onSuccessLocked()
		}
	}

	notify := cb.drainLocked()
	cb.mu.Unlock()
	cb.fire(notify)
}

// abandon releases a probe slot without recording an outcome.
func (cb *CircuitBreaker) abandon(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && gen == cb.generation {
		cb.probes--
	}
}

func (cb *CircuitBreaker) onSuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailureLocked() {
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.failures++
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked is the only place state changes. Half-open never
// transitions to half-open; open never closes without probing (Reset aside).
func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++

	switch to {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.probes = 0
		cb.nextRetry = time.Time{}
	case StateOpen:
		cb.successes = 0
		cb.probes = 0
		cb.nextRetry = cb.now().Add(cb.config.ResetTimeout)
	case StateHalfOpen:
		cb.successes = 0
		cb.probes = 0
	}

	cb.pending = append(cb.pending, transition{from: from, to: to})
}

func (cb *CircuitBreaker) drainLocked() []transition {
	if len(cb.pending) == 0 {
		return nil
	}
	out := cb.pending
	cb.pending = nil
	return out
}

func (cb *CircuitBreaker) fire(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		cb.config.OnStateChange(cb.config.Name, c.from, c.to)
	}
}
