// Package config loads the runtime settings of the snapshot store from the environment
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "FXSTORE"

// Cache modes. CacheMemory keeps the latest snapshots inside this process,
// so it only stays coherent while this process is the single writer; another
// process saving to the same database is not seen until the entry expires.
// Use CacheRedis when several processes share one store.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Group resolver backends
const (
	GroupBackendStatic   = "static"
	GroupBackendPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	LogLevel string

	StoreDriver string
	DSN         string
	BadgerPath  string
	AutoMigrate bool

	// Cache is one of the cache modes; see CacheMemory for its single-writer limit
	Cache         string
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProviderURL    string
	MaxSnapshotAge time.Duration

	RefreshSchedule    string
	RefreshBases       []string
	RefreshConcurrency int

	MetricsAddr string

	GroupBackend  string
	GroupMappings string
	GroupCacheTTL time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", "badger")
	v.SetDefault("dsn", "")
	v.SetDefault("badger_path", "data")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("cache", CacheMemory)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("provider_url", "https://open.er-api.com/v6")
	v.SetDefault("max_snapshot_age", "0s")
	v.SetDefault("refresh_schedule", "@every 1h")
	v.SetDefault("refresh_bases", "USD")
	v.SetDefault("refresh_concurrency", 4)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("group_backend", GroupBackendStatic)
	v.SetDefault("group_mappings", "")
	v.SetDefault("group_cache_ttl", "10m")
}

// Load reads a .env file if one exists, then FXSTORE_* variables, and validates the result
func Load() (*Config, error) {
	// a missing .env is fine; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		StoreDriver:        strings.ToLower(v.GetString("store_driver")),
		DSN:                v.GetString("dsn"),
		BadgerPath:         v.GetString("badger_path"),
		AutoMigrate:        v.GetBool("auto_migrate"),
		Cache:              strings.ToLower(v.GetString("cache")),
		RedisAddr:          v.GetString("redis_addr"),
		RedisPassword:      v.GetString("redis_password"),
		RedisDB:            v.GetInt("redis_db"),
		ProviderURL:        v.GetString("provider_url"),
		RefreshSchedule:    v.GetString("refresh_schedule"),
		RefreshBases:       splitList(v.GetString("refresh_bases")),
		RefreshConcurrency: v.GetInt("refresh_concurrency"),
		MetricsAddr:        v.GetString("metrics_addr"),
		GroupBackend:       strings.ToLower(v.GetString("group_backend")),
		GroupMappings:      v.GetString("group_mappings"),
	}

	var err error
	if cfg.CacheTTL, err = duration(v, "cache_ttl"); err != nil {
		return nil, err
	}
	if cfg.MaxSnapshotAge, err = duration(v, "max_snapshot_age"); err != nil {
		return nil, err
	}
	if cfg.GroupCacheTTL, err = duration(v, "group_cache_ttl"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s_%s %q: %w", EnvPrefix, strings.ToUpper(key), raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that all required fields are set and values are valid
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, fatal, got %q", c.LogLevel)
	}

	switch c.StoreDriver {
	case "memory":
	case "badger":
		if c.BadgerPath == "" {
			return errors.New("badger_path is required for the badger driver")
		}
	case "sqlite", "postgres", "postgrespool":
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for the %s driver", c.StoreDriver)
		}
	default:
		return fmt.Errorf("store_driver %q is not supported", c.StoreDriver)
	}

	switch c.Cache {
	case CacheNone:
	case CacheMemory:
		if c.CacheTTL <= 0 {
			return errors.New("cache_ttl must be > 0")
		}
	case CacheRedis:
		if c.CacheTTL <= 0 {
			return errors.New("cache_ttl must be > 0")
		}
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when cache is redis")
		}
		if c.RedisDB < 0 {
			return errors.New("redis_db must be >= 0")
		}
	default:
		return fmt.Errorf("cache %q is not supported", c.Cache)
	}

	if c.MaxSnapshotAge < 0 {
		return errors.New("max_snapshot_age must be >= 0")
	}
	if c.RefreshConcurrency < 1 {
		return errors.New("refresh_concurrency must be >= 1")
	}

	switch c.GroupBackend {
	case GroupBackendStatic:
	case GroupBackendPostgres:
		if c.DSN == "" {
			return errors.New("dsn is required for the postgres group backend")
		}
	default:
		return fmt.Errorf("group_backend %q is not supported", c.GroupBackend)
	}
	if c.GroupCacheTTL < 0 {
		return errors.New("group_cache_ttl must be >= 0")
	}

	return nil
}

// SharedStore reports whether the configured driver can be written by
// other processes at the same time
func (c *Config) SharedStore() bool {
	switch c.StoreDriver {
	case "sqlite", "postgres", "postgrespool":
		return true
	default:
		return false
	}
}
