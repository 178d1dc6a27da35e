package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

var errBoom = errors.New("provider down")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *testClock) *CircuitBreaker {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.nowFunc = clock.Now
	return cb
}

func fail(_ context.Context) error { return errBoom }
func succeed(_ context.Context) error { return nil }

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 60*time.Second {
		t.Errorf("expected 60s cooldown, got %v", cfg.ResetTimeout)
	}
	if cfg.FailureMemory != 300*time.Second {
		t.Errorf("expected 300s failure memory, got %v", cfg.FailureMemory)
	}
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := newTestBreaker(newTestClock())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterExactlyThreshold(t *testing.T) {
	cb := newTestBreaker(newTestClock())

	tripBreaker(cb, 4)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after 4 failures, got %s", cb.State())
	}

	tripBreaker(cb, 1)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 5 failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := newTestBreaker(newTestClock())

	tripBreaker(cb, 4)
	failures, state := cb.Counters()
	if failures != 4 || state != CircuitClosed {
		t.Fatalf("expected 4 failures while closed, got %d %s", failures, state)
	}

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failures, _ = cb.Counters()
	if failures != 0 {
		t.Errorf("expected failures reset to 0, got %d", failures)
	}

	// Four more failures must not open: the count restarted.
	tripBreaker(cb, 4)
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_RejectsDuringCooldown(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 5)

	clock.Advance(59 * time.Second)
	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen during cooldown, got %v", err)
	}
	if calls != 0 {
		t.Errorf("operation invoked %d times during cooldown", calls)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 12) // calls past the threshold are rejected, not counted

	clock.Advance(60 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", cb.State())
	}

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	var trialErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		trialErr = cb.Execute(context.Background(), func(_ context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()
	<-trialStarted

	// A second caller while the trial is in flight is rejected.
	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while trial in flight, got %v", err)
	}
	if calls != 0 {
		t.Errorf("second caller invoked during trial")
	}

	close(release)
	wg.Wait()
	if trialErr != nil {
		t.Fatalf("trial failed: %v", trialErr)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful trial, got %s", cb.State())
	}
	failures, _ := cb.Counters()
	if failures != 0 {
		t.Errorf("expected failures reset, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenFailure_Reopens(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 5)

	clock.Advance(61 * time.Second)
	if err := cb.Execute(context.Background(), fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected trial to run and fail, got %v", err)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after failed trial, got %s", cb.State())
	}

	// The cooldown restarts from the failed trial.
	clock.Advance(30 * time.Second)
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StaleFailureDecay(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)

	tripBreaker(cb, 4)
	clock.Advance(301 * time.Second)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}

	// The old failures were forgotten: one more does not open the circuit.
	tripBreaker(cb, 1)
	failures, state := cb.Counters()
	if failures != 1 || state != CircuitClosed {
		t.Errorf("expected 1 failure and closed, got %d %s", failures, state)
	}
}

func TestCircuitBreaker_OpenDecaysToClosed(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 5)

	clock.Advance(301 * time.Second)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected open circuit to decay to closed, got %s", cb.State())
	}

	// Closed, not half-open: concurrent callers are not limited to one trial.
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			calls.Add(1)
			return nil
		})
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls after decay, got %d", calls.Load())
	}
}

func TestCircuitBreaker_DecayBoundaryIsExclusive(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 4)

	clock.Advance(300 * time.Second)
	_, failures, _ := cb.Snapshot()
	if failures != 4 {
		t.Errorf("expected failures remembered at exactly M, got %d", failures)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newTestClock()
	var transitions []string
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.OnStateChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := NewCircuitBreaker(cfg)
	cb.nowFunc = clock.Now

	tripBreaker(cb, 2)
	clock.Advance(time.Minute)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	errIgnored := errors.New("ignored")
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.ShouldTrip = func(err error) bool { return !errors.Is(err, errIgnored) }
	cb := NewCircuitBreaker(cfg)

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errIgnored })
	if cb.State() != CircuitClosed {
		t.Errorf("ignored error should not trip, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open, got %s", cb.State())
	}
}

func TestCircuitBreaker_BudgetExceededIsNeutral(t *testing.T) {
	clock := newTestClock()
	cb := newTestBreaker(clock)
	tripBreaker(cb, 4)

	outOfTime := func(context.Context) error {
		return eris.Wrapf(ErrBudgetExceeded, "electricitymaps: %v", context.DeadlineExceeded)
	}
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), outOfTime)
	}
	failures, state := cb.Counters()
	if failures != 4 || state != CircuitClosed {
		t.Errorf("budget errors should neither count nor reset, got %d %s", failures, state)
	}

	// A half-open trial cut short by the budget frees the slot for the next caller.
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(61 * time.Second)
	_ = cb.Execute(context.Background(), outOfTime)
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("expected a new trial after a budget-cut trial, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(newTestClock())
	tripBreaker(cb, 5)

	cb.Reset()
	failures, state := cb.Counters()
	if failures != 0 || state != CircuitClosed {
		t.Errorf("expected reset to closed with 0 failures, got %d %s", failures, state)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errBoom
				}
				return nil
			})
			_ = cb.State()
		}(i)
	}
	wg.Wait()
}

func TestExecuteVal_CircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (float64, error) {
		return 0.35, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 0.35 {
		t.Errorf("expected 0.35, got %v", val)
	}
}

func TestExecuteVal_CircuitOpen(t *testing.T) {
	cb := newTestBreaker(newTestClock())
	tripBreaker(cb, 5)

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		t.Error("should not be called")
		return "x", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if val != "" {
		t.Errorf("expected zero value, got %q", val)
	}
}

func TestBreakers_KeysAreIndependent(t *testing.T) {
	clock := newTestClock()
	b := NewBreakers(DefaultCircuitBreakerConfig(), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), "electricitymaps", fail)
	}

	if err := b.Execute(context.Background(), "electricitymaps", succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected electricitymaps open, got %v", err)
	}
	if err := b.Execute(context.Background(), "ember", succeed); err != nil {
		t.Errorf("expected ember closed, got %v", err)
	}
	if b.Get("electricitymaps") != b.Get("electricitymaps") {
		t.Error("expected the same breaker instance per key")
	}
}

func TestBreakers_StateChangeHook(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1}, WithStateChangeHook(func(key string, _, to CircuitState) {
		mu.Lock()
		keys = append(keys, key+":"+to.String())
		mu.Unlock()
	}))

	_ = b.Execute(context.Background(), "watttime", fail)

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 1 || keys[0] != "watttime:open" {
		t.Errorf("expected [watttime:open], got %v", keys)
	}
}

func TestBreakers_Snapshot(t *testing.T) {
	clock := newTestClock()
	b := NewBreakers(DefaultCircuitBreakerConfig(), WithClock(clock.Now))

	_ = b.Execute(context.Background(), "watttime", fail)
	_ = b.Execute(context.Background(), "ember", succeed)
	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), "electricitymaps", fail)
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 breakers, got %d", len(snap))
	}
	if snap[0].Key != "electricitymaps" || snap[0].State != CircuitOpen || snap[0].Failures != 5 {
		t.Errorf("unexpected electricitymaps snapshot: %+v", snap[0])
	}
	if snap[1].Key != "ember" || snap[1].State != CircuitClosed || !snap[1].LastFailure.IsZero() {
		t.Errorf("unexpected ember snapshot: %+v", snap[1])
	}
	if snap[2].Key != "watttime" || snap[2].Failures != 1 {
		t.Errorf("unexpected watttime snapshot: %+v", snap[2])
	}

	states := b.States()
	if states["electricitymaps"] != CircuitOpen {
		t.Errorf("expected open in States(), got %s", states["electricitymaps"])
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(3, 10, 120)
	if cfg.FailureThreshold != 3 || cfg.ResetTimeout != 10*time.Second || cfg.FailureMemory != 2*time.Minute {
		t.Errorf("unexpected config: %+v", cfg)
	}

	def := FromCircuitConfig(0, 0, 0)
	if def.FailureThreshold != 5 || def.ResetTimeout != time.Minute || def.FailureMemory != 5*time.Minute {
		t.Errorf("expected defaults, got %+v", def)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
		text, _ := tt.state.MarshalText()
		if string(text) != tt.want {
			t.Errorf("MarshalText = %q, want %q", text, tt.want)
		}
	}
}
