package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls redelivery of outbound events and alerts.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	// InitialBackoff is the ceiling of the first wait.
	InitialBackoff time.Duration
	// MaxBackoff caps every wait, including a server's Retry-After.
	MaxBackoff time.Duration

	// ShouldRetry overrides IsRetryable.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)

	// randFunc returns a value in [0, 1). Tests pin it.
	randFunc func() float64
}

// DefaultRetryConfig returns the delivery defaults: 3 attempts, waits of up
// to 500ms doubling to at most 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Do runs fn until it succeeds, returns an error that should not be retried,
// attempts run out or ctx ends. Waits use full jitter: a random duration up
// to InitialBackoff*2^n, raised to any Retry-After the endpoint sent, capped
// at MaxBackoff. The returned error records how many attempts were made.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !cfg.ShouldRetry(err) || attempt >= cfg.MaxAttempts {
			if attempt > 1 {
				return eris.Wrapf(err, "gave up after %d attempts", attempt)
			}
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.wait(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsRetryable
	}
	if cfg.randFunc == nil {
		cfg.randFunc = rand.Float64
	}
	return cfg
}

// wait returns the pause after the given failed attempt (1-based).
func (cfg RetryConfig) wait(attempt int, err error) time.Duration {
	ceiling := cfg.MaxBackoff
	if shift := attempt - 1; shift < 32 {
		if c := cfg.InitialBackoff << shift; c > 0 && c < ceiling {
			ceiling = c
		}
	}
	d := time.Duration(cfg.randFunc() * float64(ceiling))

	var ce *CallError
	if errors.As(err, &ce) && ce.RetryAfter > d {
		d = ce.RetryAfter
	}
	return min(d, cfg.MaxBackoff)
}

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// RetryLogger returns an OnRetry callback that logs each failed delivery
// attempt to the named sink.
func RetryLogger(sink, target string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying delivery",
			zap.String("sink", sink),
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Stringer("outcome", OutcomeOf(err)),
			zap.Error(err),
		)
	}
}
