// Package factor resolves the grid emission factor for a region. Resolution
// never fails: when no provider can answer, a conservative default is used.
package factor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/devcarbon/internal/cache"
	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/resilience"
	"github.com/sells-group/devcarbon/pkg/gridintensity"
)

const (
	// DefaultFactorKgPerKWh is the conservative global grid intensity used
	// when every provider fails.
	DefaultFactorKgPerKWh = 0.5

	// DefaultTTL is how long a provider-sourced factor is cached.
	DefaultTTL = 24 * time.Hour

	// DefaultFallbackTTL is how long the global default is cached after the
	// provider chain was exhausted.
	DefaultFallbackTTL = time.Hour

	defaultSourceName = "global-default"
)

// Recorder persists resolved factors as an audit trail.
type Recorder interface {
	RecordFactor(ctx context.Context, key string, f *model.EmissionFactor) error
}

// Resolver looks up emission factors through a cache, then providers in trust
// order behind per-provider circuit breakers, then a default.
type Resolver struct {
	providers     []gridintensity.Provider
	cache         cache.Cache[*model.EmissionFactor]
	breakers      *resilience.Breakers
	recorder      Recorder
	group         singleflight.Group
	ttl           time.Duration
	fallbackTTL   time.Duration
	deadline      time.Duration
	defaultFactor float64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithTTL sets the cache TTL for provider-sourced factors.
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithFallbackTTL sets the cache TTL for the synthesized default factor.
func WithFallbackTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fallbackTTL = d
		}
	}
}

// WithDeadline bounds a whole resolution. Once it passes, remaining
// providers are skipped and the default is used. Zero disables it.
func WithDeadline(d time.Duration) Option {
	return func(r *Resolver) {
		r.deadline = d
	}
}

// WithDefaultFactor overrides the global default intensity.
func WithDefaultFactor(kgPerKWh float64) Option {
	return func(r *Resolver) {
		if kgPerKWh > 0 {
			r.defaultFactor = kgPerKWh
		}
	}
}

// WithRecorder sets where freshly resolved factors are recorded.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) {
		r.recorder = rec
	}
}

// NewResolver creates a Resolver that tries providers in the given order.
func NewResolver(providers []gridintensity.Provider, c cache.Cache[*model.EmissionFactor], breakers *resilience.Breakers, opts ...Option) *Resolver {
	r := &Resolver{
		providers:     providers,
		cache:         c,
		breakers:      breakers,
		ttl:           DefaultTTL,
		fallbackTTL:   DefaultFallbackTTL,
		defaultFactor: DefaultFactorKgPerKWh,
		nowFunc:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the emission factor for region. It never returns nil.
func (r *Resolver) Resolve(ctx context.Context, region model.Region) *model.EmissionFactor {
	region = region.Normalize()
	key := region.CacheKey()

	if f, ok := r.cache.Get(key); ok {
		return f
	}

	v, _, shared := r.group.Do(key, func() (any, error) {
		// Another flight may have filled the cache between our miss and now.
		if f, ok := r.cache.Get(key); ok {
			return f, nil
		}
		return r.resolveChain(ctx, key, region), nil
	})
	if shared {
		zap.L().Debug("factor: coalesced resolution", zap.String("region", key))
	}
	return v.(*model.EmissionFactor)
}

// Invalidate drops the cached factor for region.
func (r *Resolver) Invalidate(region model.Region) {
	r.cache.Delete(region.CacheKey())
}

// resolveChain walks the providers and caches the outcome.
func (r *Resolver) resolveChain(ctx context.Context, key string, region model.Region) *model.EmissionFactor {
	// Provider calls run to their own timeouts even if this caller goes away,
	// since coalesced callers share the outcome.
	ctx = context.WithoutCancel(ctx)
	if r.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deadline)
		defer cancel()
	}

	for _, p := range r.providers {
		if ctx.Err() != nil {
			zap.L().Warn("factor: resolution deadline reached, skipping remaining providers",
				zap.String("region", key),
				zap.String("next_provider", p.Name()),
			)
			break
		}
		if !p.Supports(region) {
			zap.L().Debug("factor: provider does not cover region",
				zap.String("provider", p.Name()),
				zap.String("region", key),
			)
			continue
		}

		f, err := resilience.ExecuteVal(ctx, r.breakers.Get(p.Name()), func(ctx context.Context) (*model.EmissionFactor, error) {
			f, err := p.Fetch(ctx, region)
			if err != nil {
				// Only the resolution deadline can end ctx, and running out of
				// it says nothing about the provider.
				if ctx.Err() != nil {
					return nil, eris.Wrapf(resilience.ErrBudgetExceeded, "%s: %v", p.Name(), err)
				}
				return nil, err
			}
			if err := f.Validate(); err != nil {
				return nil, eris.Wrapf(gridintensity.ErrDataMissing, "%s: %v", p.Name(), err)
			}
			return f, nil
		})
		if err != nil {
			zap.L().Debug("factor: provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.String("region", key),
				zap.Error(err),
			)
			continue
		}

		r.cache.Set(key, f, r.ttl)
		r.record(ctx, key, f)
		zap.L().Debug("factor: resolved",
			zap.String("provider", p.Name()),
			zap.String("region", key),
			zap.Float64("kg_per_kwh", f.FactorKgPerKWh),
		)
		return f
	}

	f := r.fallback(region)
	zap.L().Warn("factor: all providers failed, using global default",
		zap.String("region", key),
		zap.Float64("kg_per_kwh", f.FactorKgPerKWh),
	)
	r.cache.Set(key, f, r.fallbackTTL)
	return f
}

// fallback synthesizes the conservative global default for region.
func (r *Resolver) fallback(region model.Region) *model.EmissionFactor {
	now := r.nowFunc()
	return &model.EmissionFactor{
		Region:         region,
		FactorKgPerKWh: r.defaultFactor,
		Source: model.FactorSource{
			Name:        defaultSourceName,
			Methodology: "Conservative global average grid intensity, used when no provider returned a regional factor",
		},
		ConfidenceRating: model.ConfidenceLow,
		ValidFrom:        now,
		ValidUntil:       now.Add(r.fallbackTTL),
		LastUpdated:      now,
		Default:          true,
	}
}

func (r *Resolver) record(ctx context.Context, key string, f *model.EmissionFactor) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordFactor(ctx, key, f); err != nil {
		zap.L().Warn("factor: record failed",
			zap.String("region", key),
			zap.Error(err),
		)
	}
}
