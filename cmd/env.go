package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/cache"
	"github.com/sells-group/devcarbon/internal/carbon"
	"github.com/sells-group/devcarbon/internal/config"
	"github.com/sells-group/devcarbon/internal/energy"
	"github.com/sells-group/devcarbon/internal/events"
	"github.com/sells-group/devcarbon/internal/factor"
	"github.com/sells-group/devcarbon/internal/model"
	"github.com/sells-group/devcarbon/internal/monitoring"
	"github.com/sells-group/devcarbon/internal/resilience"
	"github.com/sells-group/devcarbon/internal/store"
	"github.com/sells-group/devcarbon/pkg/gridintensity"
)

// carbonEnv holds the initialized components shared by the estimate, factor
// and serve commands.
type carbonEnv struct {
	Store      store.Store // nil when store.driver is none
	Cache      *cache.Memory[*model.EmissionFactor]
	Breakers   *resilience.Breakers
	Resolver   *factor.Resolver
	Calculator *carbon.Calculator
	Bus        *events.Bus
	Collector  *monitoring.Collector

	cancel     context.CancelFunc
	dispatched sync.WaitGroup
}

// Close drains pending events and releases the store.
func (e *carbonEnv) Close() {
	if e.Bus != nil {
		e.Bus.Close()
	}
	e.dispatched.Wait()
	if e.cancel != nil {
		e.cancel()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// envOptions selects optional wiring for a command.
type envOptions struct {
	mode          string // config validation mode
	persistViaBus bool   // save every published result through a store sink
}

// initEnv validates the config and builds the provider chain, resolver,
// calculator and event bus. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, opts envOptions) (*carbonEnv, error) {
	if err := c.Validate(opts.mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	env := &carbonEnv{
		Store:  st,
		Cache:  cache.NewMemory[*model.EmissionFactor](),
		Bus:    events.NewBus(c.Events.Buffer),
		cancel: cancel,
	}
	go env.Cache.Run(runCtx, c.Cache.SweepInterval())

	env.Breakers = resilience.NewBreakers(
		resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs, c.Circuit.FailureMemorySecs),
		resilience.WithStateChangeHook(func(key string, from, to resilience.CircuitState) {
			zap.L().Info("circuit breaker state change",
				zap.String("provider", key),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}),
	)

	resolverOpts := []factor.Option{
		factor.WithTTL(c.Cache.TTL()),
		factor.WithFallbackTTL(c.Cache.FallbackTTL()),
		factor.WithDefaultFactor(c.Resolver.DefaultFactor),
	}
	if c.Resolver.DeadlineSecs > 0 {
		resolverOpts = append(resolverOpts, factor.WithDeadline(secs(c.Resolver.DeadlineSecs)))
	}
	if st != nil {
		resolverOpts = append(resolverOpts, factor.WithRecorder(st))
	}
	env.Resolver = factor.NewResolver(buildProviders(c.Providers), env.Cache, env.Breakers, resolverOpts...)

	env.Calculator = carbon.NewCalculator(
		energy.NewModel(c.Energy),
		env.Resolver,
		carbon.WithPublisher(env.Bus),
		carbon.WithConcurrency(c.Batch.Concurrency),
	)

	var lister monitoring.ResultLister
	if st != nil {
		lister = st
	}
	env.Collector = monitoring.NewCollector(lister, env.Breakers, env.Cache, env.Bus)

	var sinks []events.Sink
	if opts.persistViaBus && st != nil {
		sinks = append(sinks, events.NewStoreSink(st))
	}
	if c.Events.WebhookURL != "" {
		r := c.Events.WebhookRetry
		sinks = append(sinks, events.NewWebhookSink(c.Events.WebhookURL, secs(c.Events.WebhookTimeoutSecs),
			events.WithWebhookRetry(resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs))))
	}
	if len(sinks) > 0 {
		ch := env.Bus.Subscribe()
		env.dispatched.Add(1)
		go func() {
			defer env.dispatched.Done()
			events.Dispatch(runCtx, ch, sinks...)
		}()
	}

	return env, nil
}

// buildProviders returns the configured providers in trust order. A provider
// without credentials is left out of the chain.
func buildProviders(pc config.ProvidersConfig) []gridintensity.Provider {
	var providers []gridintensity.Provider

	if p := pc.ElectricityMaps; p.APIKey != "" {
		providers = append(providers, gridintensity.NewElectricityMaps(p.APIKey, providerOptions(p)...))
	} else {
		zap.L().Debug("DEVCARBON_PROVIDERS_ELECTRICITYMAPS_API_KEY not set, ElectricityMaps disabled")
	}

	if p := pc.WattTime; p.Token != "" || (p.Username != "" && p.Password != "") {
		providers = append(providers, gridintensity.NewWattTime(gridintensity.WattTimeCredentials{
			Username: p.Username,
			Password: p.Password,
			Token:    p.Token,
		}, providerOptions(p)...))
	} else {
		zap.L().Debug("WattTime credentials not set, WattTime disabled")
	}

	if p := pc.Ember; p.APIKey != "" {
		providers = append(providers, gridintensity.NewEmber(p.APIKey, providerOptions(p)...))
	} else {
		zap.L().Debug("DEVCARBON_PROVIDERS_EMBER_API_KEY not set, Ember disabled")
	}

	if len(providers) == 0 {
		zap.L().Warn("no grid intensity providers configured, every factor will be the global default")
	}
	return providers
}

func providerOptions(p config.ProviderConfig) []gridintensity.Option {
	var opts []gridintensity.Option
	if p.BaseURL != "" {
		opts = append(opts, gridintensity.WithBaseURL(p.BaseURL))
	}
	if p.TimeoutSecs > 0 {
		opts = append(opts, gridintensity.WithTimeout(p.Timeout()))
	}
	if p.RatePerSec > 0 {
		opts = append(opts, gridintensity.WithRateLimit(p.RatePerSec))
	}
	return opts
}
