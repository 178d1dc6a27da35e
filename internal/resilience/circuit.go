// Package resilience provides circuit breaker and retry patterns for calls to
// external grid-intensity providers and outbound sinks.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls without invoking them.
	CircuitOpen
	// CircuitHalfOpen admits a single trial call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is the cooldown an open circuit waits, measured from the
	// last failure, before admitting a half-open trial. Default: 60s.
	ResetTimeout time.Duration

	// FailureMemory is how long a failure is remembered. Once the last failure
	// is older than this, the breaker forgets it and closes. Default: 300s.
	FailureMemory time.Duration

	// ShouldTrip optionally decides whether an error counts as a failure.
	// If nil, every non-nil error counts. ErrBudgetExceeded is never
	// consulted here: it leaves the breaker untouched.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	// It runs with the breaker lock held and must not call back into it.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the provider defaults: 5 failures, 60s
// cooldown, 300s failure memory.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		FailureMemory:    300 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for a single key.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures        int
	lastFailureTime time.Time
	trialInFlight   bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.FailureMemory <= 0 {
		cfg.FailureMemory = def.FailureMemory
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen without
// calling fn if the circuit is open or a half-open trial is already running.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err)
	return val, err
}

// State returns the current circuit state, accounting for elapsed cooldown
// and failure-memory windows without mutating the breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.effective(cb.nowFunc())
	return state
}

// Snapshot returns the effective state, failure count and last failure time.
func (cb *CircuitBreaker) Snapshot() (state CircuitState, failures int, lastFailure time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, failures = cb.effective(cb.nowFunc())
	return state, failures, cb.lastFailureTime
}

// effective applies the cooldown and failure-memory windows to the stored
// state. Caller holds mu.
func (cb *CircuitBreaker) effective(now time.Time) (CircuitState, int) {
	if cb.failures > 0 && now.Sub(cb.lastFailureTime) > cb.cfg.FailureMemory {
		return CircuitClosed, 0
	}
	if cb.state == CircuitOpen && now.Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen, cb.failures
	}
	return cb.state, cb.failures
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trialInFlight = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Counters returns the current failure count and stored state.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.state
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFunc()

	// Stale-failure decay: forget failures older than the memory window.
	if cb.failures > 0 && now.Sub(cb.lastFailureTime) > cb.cfg.FailureMemory {
		cb.failures = 0
		cb.trialInFlight = false
		if cb.state != CircuitClosed {
			cb.transition(CircuitClosed)
		}
	}

	switch cb.state {
	case CircuitOpen:
		if now.Sub(cb.lastFailureTime) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		cb.trialInFlight = true
		return nil
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.state == CircuitHalfOpen
	cb.trialInFlight = false

	// The caller ran out of time; the provider's health is unknown.
	if eris.Is(err, ErrBudgetExceeded) {
		return
	}

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.nowFunc()

	if wasTrial || cb.failures >= cb.cfg.FailureThreshold {
		if cb.state != CircuitOpen {
			cb.transition(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BreakerSnapshot is a point-in-time view of one keyed breaker.
type BreakerSnapshot struct {
	Key         string       `json:"key"`
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"last_failure,omitzero"`
}

// Breakers manages one circuit breaker per key, created on first use.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig

	onStateChange func(key string, from, to CircuitState)
	nowFunc       func() time.Time
}

// BreakersOption configures a Breakers registry.
type BreakersOption func(*Breakers)

// WithStateChangeHook registers a callback for transitions of any key.
func WithStateChangeHook(fn func(key string, from, to CircuitState)) BreakersOption {
	return func(b *Breakers) {
		b.onStateChange = fn
	}
}

// WithClock overrides the time source for every breaker in the registry.
func WithClock(now func() time.Time) BreakersOption {
	return func(b *Breakers) {
		b.nowFunc = now
	}
}

// NewBreakers creates a registry of keyed circuit breakers.
func NewBreakers(cfg CircuitBreakerConfig, opts ...BreakersOption) *Breakers {
	b := &Breakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the circuit breaker for key, creating one if needed.
func (b *Breakers) Get(key string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[key]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = b.breakers[key]; ok {
		return cb
	}
	cfg := b.cfg
	if hook := b.onStateChange; hook != nil {
		cfg.OnStateChange = func(from, to CircuitState) { hook(key, from, to) }
	}
	cb = NewCircuitBreaker(cfg)
	cb.nowFunc = b.nowFunc
	b.breakers[key] = cb
	return cb
}

// Execute runs fn through the breaker registered under key.
func (b *Breakers) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return b.Get(key).Execute(ctx, fn)
}

// States returns a snapshot of all circuit breaker states.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	states := make(map[string]CircuitState, len(b.breakers))
	for name, cb := range b.breakers {
		states[name] = cb.State()
	}
	return states
}

// Snapshot returns every breaker's state and counters, sorted by key.
func (b *Breakers) Snapshot() []BreakerSnapshot {
	b.mu.RLock()
	out := make([]BreakerSnapshot, 0, len(b.breakers))
	for key, cb := range b.breakers {
		state, failures, last := cb.Snapshot()
		out = append(out, BreakerSnapshot{
			Key:         key,
			State:       state,
			Failures:    failures,
			LastFailure: last,
		})
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
