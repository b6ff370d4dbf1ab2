// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	RevalidateSecret string `env:"CONTENTFUL_REVALIDATE_SECRET"`
	RevalidateHeader string `env:"TAGCACHE_REVAL_HEADER" envDefault:"X-Vercel-Reval-Key"`

	// RedisURL enables the Redis provider, shared index and view counter.
	RedisURL string `env:"REDIS_URL"`
	// CounterURL overrides RedisURL for the view counter (redis:// or postgres://).
	CounterURL string `env:"COUNTER_URL"`

	SpaceID     string `env:"CONTENTFUL_SPACE_ID"`
	AccessToken string `env:"CONTENTFUL_ACCESS_TOKEN"`
	Environment string `env:"CONTENTFUL_ENVIRONMENT" envDefault:"master"`
	Host        string `env:"CONTENTFUL_HOST"        envDefault:"cdn.contentful.com"`

	HTTPAddr string `env:"TAGCACHE_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"TAGCACHE_LOG_LEVEL" envDefault:"info"`

	Provider       string        `env:"TAGCACHE_PROVIDER"        envDefault:"lru"`
	Codec          string        `env:"TAGCACHE_CODEC"           envDefault:"json"`
	MaxEntries     int           `env:"TAGCACHE_MAX_ENTRIES"     envDefault:"10000"`
	FreshFor       time.Duration `env:"TAGCACHE_FRESH_FOR"       envDefault:"15m"`
	ComputeTimeout time.Duration `env:"TAGCACHE_COMPUTE_TIMEOUT" envDefault:"10s"`
	RefreshWorkers int           `env:"TAGCACHE_REFRESH_WORKERS" envDefault:"4"`
	SharedIndex    bool          `env:"TAGCACHE_SHARED_INDEX"` // implied by TAGCACHE_PROVIDER=redis
	Placeholder    string        `env:"TAGCACHE_PLACEHOLDER"     envDefault:"local"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CounterBackendURL is the view counter's backend URL; "" selects
// placeholder counts.
func (c Config) CounterBackendURL() string {
	if c.CounterURL != "" {
		return c.CounterURL
	}
	return c.RedisURL
}

func (c Config) Validate() error {
	switch c.Provider {
	case "lru", "ristretto", "bigcache":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("config: TAGCACHE_PROVIDER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown TAGCACHE_PROVIDER %q", c.Provider)
	}
	switch c.Codec {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("config: unknown TAGCACHE_CODEC %q", c.Codec)
	}
	switch c.Placeholder {
	case "local", "api":
	default:
		return fmt.Errorf("config: unknown TAGCACHE_PLACEHOLDER %q", c.Placeholder)
	}
	// a replica-local provider would drop index entries other replicas own
	if c.SharedIndex && c.Provider != "redis" {
		return fmt.Errorf("config: TAGCACHE_SHARED_INDEX requires TAGCACHE_PROVIDER=redis")
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("config: TAGCACHE_MAX_ENTRIES must be > 0")
	}
	if c.FreshFor <= 0 || c.ComputeTimeout <= 0 {
		return fmt.Errorf("config: TAGCACHE_FRESH_FOR and TAGCACHE_COMPUTE_TIMEOUT must be > 0")
	}
	return nil
}
