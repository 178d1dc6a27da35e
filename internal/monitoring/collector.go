// Package monitoring watches provider health and factor quality, and raises
// alerts when estimates start leaning on the global default.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/cache"
	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
	"github.com/sells-group/devcarbon/internal/store"
)

// collectLimit bounds how many results one collection scans.
const collectLimit = 10000

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Result metrics (within lookback window).
	ResultsTotal      int     `json:"results_total"`
	DefaultFactorUsed int     `json:"default_factor_used"`
	DefaultFactorRate float64 `json:"default_factor_rate"`
	LowConfidence     int     `json:"low_confidence"`
	TotalKg           float64 `json:"total_kg"`

	// Provider breakers.
	Breakers     []resilience.BreakerSnapshot `json:"breakers"`
	OpenBreakers []string                     `json:"open_breakers,omitempty"`

	Cache         cache.Stats `json:"cache"`
	DroppedEvents int64       `json:"dropped_events"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ResultLister is the store method the collector reads results through.
type ResultLister interface {
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.CarbonCalculationResult, error)
}

// BreakerSource exposes breaker state.
type BreakerSource interface {
	Snapshot() []resilience.BreakerSnapshot
}

// CacheSource exposes cache counters.
type CacheSource interface {
	Stats() cache.Stats
}

// DropCounter exposes the number of events dropped by the bus.
type DropCounter interface {
	Dropped() int64
}

// Collector gathers metrics from the store, breakers, cache and bus. Any
// source may be nil.
type Collector struct {
	results  ResultLister
	breakers BreakerSource
	cache    CacheSource
	bus      DropCounter

	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(results ResultLister, breakers BreakerSource, c CacheSource, bus DropCounter) *Collector {
	return &Collector{
		results:  results,
		breakers: breakers,
		cache:    c,
		bus:      bus,
		nowFunc:  time.Now,
	}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	if c.results != nil {
		results, err := c.results.ListResults(ctx, store.ResultFilter{
			Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
			Limit: collectLimit,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list results")
		}

		snap.ResultsTotal = len(results)
		for _, r := range results {
			snap.TotalKg += r.CarbonMassKg
			if r.EmissionFactor.Default {
				snap.DefaultFactorUsed++
			}
			if r.ConfidenceTier == model.ConfidenceLow {
				snap.LowConfidence++
			}
		}
		if snap.ResultsTotal > 0 {
			snap.DefaultFactorRate = float64(snap.DefaultFactorUsed) / float64(snap.ResultsTotal)
		}
	}

	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshot()
		for _, b := range snap.Breakers {
			if b.State == resilience.CircuitOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, b.Key)
			}
		}
	}
	if c.cache != nil {
		snap.Cache = c.cache.Stats()
	}
	if c.bus != nil {
		snap.DroppedEvents = c.bus.Dropped()
	}

	return snap, nil
}
