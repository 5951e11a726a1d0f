package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/application/service"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/config"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/api"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/cache"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/groups"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *config.Config
	logger  logger.Logger
	backend repository.SnapshotRepository
	store   repository.SnapshotRepository
	rates   *service.RateService
	closers []func() error
}

func newLogger(cfg *config.Config, w io.Writer) logger.Logger {
	log := logger.NewJSONLogger(w, logger.ParseLevel(cfg.LogLevel))
	logger.SetDefaultLogger(log)
	return log
}

// openApp opens the configured backend and layers metrics and caching over it
func openApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	backend, err := db.Open(ctx, db.Config{
		Driver:      cfg.StoreDriver,
		DSN:         cfg.DSN,
		BadgerPath:  cfg.BadgerPath,
		AutoMigrate: cfg.AutoMigrate,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	a := &app{cfg: cfg, logger: log, backend: backend}
	a.closers = append(a.closers, backend.Close)

	var store repository.SnapshotRepository = metrics.InstrumentStore(backend)

	switch cfg.Cache {
	case config.CacheMemory:
		if cfg.SharedStore() {
			log.Warn("Memory cache only sees saves made by this process", map[string]interface{}{
				"store_driver": cfg.StoreDriver,
				"cache_ttl":    cfg.CacheTTL.String(),
			})
		}
		store = cache.NewCachedStore(store, cache.NewMemoryLatestCache(cfg.CacheTTL), log)
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		store = cache.NewCachedStore(store, cache.NewRedisLatestCache(client, cfg.CacheTTL), log)
	}
	a.store = store

	provider := api.NewExchangeRateAPIClient(cfg.ProviderURL, nil, log)
	a.rates = service.NewRateService(store, provider, log)
	a.rates.MaxSnapshotAge = cfg.MaxSnapshotAge

	return a, nil
}

// postgresPool returns the backend's pool when it has one, or opens a new pool on the DSN
func (a *app) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if ps, ok := a.backend.(*db.PostgresPoolSnapshotStore); ok {
		return ps.Pool(), nil
	}
	pool, err := db.OpenPostgresPool(ctx, a.cfg.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return pool, nil
}

// groupResolver builds the configured resolver, wrapped in a TTL cache when enabled
func (a *app) groupResolver(ctx context.Context) (repository.GroupResolver, error) {
	var resolver repository.GroupResolver

	switch a.cfg.GroupBackend {
	case config.GroupBackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		resolver = groups.NewPostgresResolver(pool)
	default:
		entries, err := groups.ParseStaticMappings(a.cfg.GroupMappings)
		if err != nil {
			return nil, err
		}
		resolver = groups.NewStaticResolver(entries)
	}

	if a.cfg.GroupCacheTTL > 0 {
		resolver = groups.NewCachingResolver(resolver, a.cfg.GroupCacheTTL)
	}
	return resolver, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
