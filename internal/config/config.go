// Package config loads assetproxy settings from ASSETPROXY_* environment
// variables. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "ASSETPROXY_"

type Config struct {
	Listen    string   `env:"LISTEN"     envDefault:":8080"`
	Origin    string   `env:"ORIGIN"`
	CacheName string   `env:"CACHE_NAME" envDefault:"vox-videos-cache"`
	Seed      []string `env:"SEED"       envDefault:"/,/static/logo/logo.png" envSeparator:","`
	Namespace string   `env:"NAMESPACE"  envDefault:"assetproxy"`
	Disabled  bool     `env:"DISABLED"`

	// Store selects the provider: ristretto, bigcache or redis.
	Store         string `env:"STORE"           envDefault:"ristretto"`
	Codec         string `env:"CODEC"           envDefault:"cbor"`
	MaxEntryBytes int    `env:"MAX_ENTRY_BYTES" envDefault:"33554432"`

	Ristretto RistrettoConfig `envPrefix:"RISTRETTO_"`
	BigCache  BigCacheConfig  `envPrefix:"BIGCACHE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`

	InstallAttempts uint          `env:"INSTALL_ATTEMPTS" envDefault:"5"`
	InstallTimeout  time.Duration `env:"INSTALL_TIMEOUT"  envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"slog"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
}

type RistrettoConfig struct {
	NumCounters int64 `env:"NUM_COUNTERS" envDefault:"100000"`
	MaxCost     int64 `env:"MAX_COST"     envDefault:"268435456"`
}

// BigCacheConfig sizes bigcache. About MaxEntries * MaxEntrySize bytes are
// allocated up front.
type BigCacheConfig struct {
	Shards             int `env:"SHARDS"                 envDefault:"64"`
	MaxEntries         int `env:"MAX_ENTRIES"            envDefault:"1024"`
	MaxEntrySize       int `env:"MAX_ENTRY_SIZE"         envDefault:"4096"`
	HardMaxCacheSizeMB int `env:"HARD_MAX_CACHE_SIZE_MB"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// OriginURL parses Origin. It returns nil when no origin is set.
func (c Config) OriginURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("origin %q: want an absolute http(s) URL", c.Origin)
	}
	return u, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.CacheName == "" {
		errs = append(errs, errors.New("cache name is required"))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store {
	case "ristretto", "bigcache", "redis":
	default:
		errs = append(errs, fmt.Errorf("store %q: want ristretto, bigcache or redis", c.Store))
	}
	switch c.Codec {
	case "cbor", "msgpack", "json", "proto":
	default:
		errs = append(errs, fmt.Errorf("codec %q: want cbor, msgpack, json or proto", c.Codec))
	}
	switch c.LogFormat {
	case "slog", "zap", "logrus":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want slog, zap or logrus", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q: want debug, info, warn or error", c.LogLevel))
	}
	if c.MaxEntryBytes < 0 {
		errs = append(errs, errors.New("max entry bytes must not be negative"))
	}
	return errors.Join(errs...)
}
