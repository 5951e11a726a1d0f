package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "fxstore:latest:"
	maxPutAttempts   = 10
)

// RedisConfig holds the connection settings of the shared cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and checks the connection with a ping
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return cli, nil
}

// RedisLatestCache shares the latest snapshots between processes through Redis
type RedisLatestCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLatestCache creates a cache on client. A non-positive ttl uses DefaultExpiration.
func NewRedisLatestCache(client redis.UniversalClient, ttl time.Duration) *RedisLatestCache {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	return &RedisLatestCache{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       ttl,
	}
}

func (c *RedisLatestCache) key(baseCode string) string {
	return c.keyPrefix + entity.NormalizeCode(baseCode)
}

// Get returns the cached snapshot for the base code
func (c *RedisLatestCache) Get(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(baseCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached snapshot: %w", err)
	}

	var snap entity.ExchangeRateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return &snap, true, nil
}

// Put stores the snapshot unless Redis already holds a newer one. The
// compare and set runs in a WATCH transaction and is retried on contention.
func (c *RedisLatestCache) Put(ctx context.Context, snapshot entity.ExchangeRateSnapshot) error {
	key := c.key(snapshot.BaseCode)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing entity.ExchangeRateSnapshot
			// an undecodable entry is simply overwritten
			if json.Unmarshal(cur, &existing) == nil && !snapshot.NewerThan(existing) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return fmt.Errorf("failed to cache snapshot for %s: key kept changing", snapshot.BaseCode)
}

// Invalidate deletes the cached snapshot of the base code
func (c *RedisLatestCache) Invalidate(ctx context.Context, baseCode string) error {
	if err := c.client.Del(ctx, c.key(baseCode)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached snapshot: %w", err)
	}
	return nil
}
