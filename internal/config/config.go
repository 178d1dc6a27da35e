package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/devcarbon/internal/energy"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Energy     energy.Constants `yaml:"energy" mapstructure:"energy"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or none
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the emission factor cache.
type CacheConfig struct {
	TTLHours          int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	FallbackTTLMins   int `yaml:"fallback_ttl_mins" mapstructure:"fallback_ttl_mins"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// TTL returns the provider factor TTL.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLHours) * time.Hour }

// FallbackTTL returns the default factor TTL.
func (c CacheConfig) FallbackTTL() time.Duration {
	return time.Duration(c.FallbackTTLMins) * time.Minute
}

// SweepInterval returns how often expired entries are purged.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// CircuitConfig configures the per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold  int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	FailureMemorySecs int `yaml:"failure_memory_secs" mapstructure:"failure_memory_secs"`
}

// ResolverConfig configures emission factor resolution.
type ResolverConfig struct {
	DeadlineSecs  int     `yaml:"deadline_secs" mapstructure:"deadline_secs"` // 0 = none
	DefaultFactor float64 `yaml:"default_factor" mapstructure:"default_factor"`
}

// ProvidersConfig holds credentials and tuning for each grid intensity source.
type ProvidersConfig struct {
	ElectricityMaps ProviderConfig `yaml:"electricitymaps" mapstructure:"electricitymaps"`
	WattTime        ProviderConfig `yaml:"watttime" mapstructure:"watttime"`
	Ember           ProviderConfig `yaml:"ember" mapstructure:"ember"`
}

// ProviderConfig configures one provider. Not every provider uses every field.
type ProviderConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Token       string  `yaml:"token" mapstructure:"token"`
	Username    string  `yaml:"username" mapstructure:"username"`
	Password    string  `yaml:"password" mapstructure:"password"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// EventsConfig configures result event delivery.
type EventsConfig struct {
	Buffer             int         `yaml:"buffer" mapstructure:"buffer"`
	WebhookURL         string      `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookTimeoutSecs int         `yaml:"webhook_timeout_secs" mapstructure:"webhook_timeout_secs"`
	WebhookRetry       RetryConfig `yaml:"webhook_retry" mapstructure:"webhook_retry"`
}

// RetryConfig configures redelivery of an outbound webhook.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BatchConfig configures batch calculation.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker run by serve.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DefaultRateThreshold float64 `yaml:"default_rate_threshold" mapstructure:"default_rate_threshold"` // fraction of results priced with the default factor
	MinResults           int     `yaml:"min_results" mapstructure:"min_results"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEVCARBON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "devcarbon.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.fallback_ttl_mins", 60)
	v.SetDefault("cache.sweep_interval_secs", 300)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("circuit.failure_memory_secs", 300)

	v.SetDefault("resolver.deadline_secs", 0)
	v.SetDefault("resolver.default_factor", 0.5)

	// Credentials get empty defaults so AutomaticEnv can bind them.
	for _, p := range []string{"electricitymaps", "watttime", "ember"} {
		for _, k := range []string{"api_key", "token", "username", "password"} {
			v.SetDefault(fmt.Sprintf("providers.%s.%s", p, k), "")
		}
		v.SetDefault(fmt.Sprintf("providers.%s.timeout_secs", p), 10)
		v.SetDefault(fmt.Sprintf("providers.%s.rate_per_sec", p), 5)
	}
	v.SetDefault("providers.electricitymaps.base_url", "https://api.electricitymap.org/v3")
	v.SetDefault("providers.watttime.base_url", "https://api.watttime.org")
	v.SetDefault("providers.ember.base_url", "https://api.ember-energy.org")

	e := energy.DefaultConstants()
	v.SetDefault("energy.per_line", e.PerLine)
	v.SetDefault("energy.per_dev_minute", e.PerDevMinute)
	v.SetDefault("energy.dev_minutes_per_line", e.DevMinutesPerLine)
	v.SetDefault("energy.per_mb", e.PerMB)
	v.SetDefault("energy.bytes_per_line", e.BytesPerLine)
	v.SetDefault("energy.per_read", e.PerRead)
	v.SetDefault("energy.per_write", e.PerWrite)
	v.SetDefault("energy.runner_rates", e.RunnerRates)
	v.SetDefault("energy.ci_network_per_min", e.CINetworkPerMin)
	v.SetDefault("energy.ci_storage_per_min", e.CIStoragePerMin)
	v.SetDefault("energy.review_overhead", e.ReviewOverhead)
	v.SetDefault("energy.pue", e.PUE)
	v.SetDefault("energy.cooling_multiplier", e.CoolingMultiplier)

	v.SetDefault("events.buffer", 64)
	v.SetDefault("events.webhook_url", "")
	v.SetDefault("events.webhook_timeout_secs", 10)
	v.SetDefault("events.webhook_retry.max_attempts", 3)
	v.SetDefault("events.webhook_retry.initial_backoff_ms", 500)
	v.SetDefault("events.webhook_retry.max_backoff_ms", 30000)

	v.SetDefault("batch.concurrency", 8)

	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.default_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_results", 10)
}

// Validate checks the configuration for the given command mode
// ("estimate", "serve" or "store").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "none":
		if mode == "store" {
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Cache.TTLHours <= 0 {
		errs = append(errs, "cache.ttl_hours must be positive")
	}
	if c.Cache.FallbackTTLMins <= 0 {
		errs = append(errs, "cache.fallback_ttl_mins must be positive")
	}
	if c.Circuit.FailureThreshold < 1 {
		errs = append(errs, "circuit.failure_threshold must be at least 1")
	}
	if c.Circuit.ResetTimeoutSecs <= 0 || c.Circuit.FailureMemorySecs <= 0 {
		errs = append(errs, "circuit timeouts must be positive")
	}
	if c.Resolver.DeadlineSecs < 0 {
		errs = append(errs, "resolver.deadline_secs must not be negative")
	}
	if c.Resolver.DefaultFactor <= 0 {
		errs = append(errs, "resolver.default_factor must be positive")
	}
	if c.Energy.PUE < 1 {
		errs = append(errs, "energy.pue must be at least 1")
	}
	if r := c.Events.WebhookRetry; r.MaxAttempts < 0 || r.InitialBackoffMs < 0 || r.MaxBackoffMs < 0 {
		errs = append(errs, "events.webhook_retry values must not be negative")
	} else if r.MaxBackoffMs > 0 && r.InitialBackoffMs > r.MaxBackoffMs {
		errs = append(errs, "events.webhook_retry.initial_backoff_ms must not exceed max_backoff_ms")
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 256 {
		errs = append(errs, "batch.concurrency must be between 1 and 256")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Monitoring.DefaultRateThreshold < 0 || c.Monitoring.DefaultRateThreshold > 1 {
			errs = append(errs, "monitoring.default_rate_threshold must be between 0 and 1")
		}
	case "estimate", "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
