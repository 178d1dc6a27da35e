package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a CircuitBreakerConfig. Zero
// values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs, failureMemorySecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	if failureMemorySecs > 0 {
		cfg.FailureMemory = time.Duration(failureMemorySecs) * time.Second
	}
	return cfg
}
