package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/observability"
)

// redisCache implements Cache on a Redis client.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string

	hits   int64
	misses int64
}

// NewRedis creates a Redis-backed distributed cache.
func NewRedis(cfg *config.RedisConfig, logger observability.Logger) (Cache, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}
	applyPoolOptions(opts, cfg)

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, errors.New("redis connection failed: " + err.Error())
	}

	c := &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}

	logger.Info("redis cache initialized",
		observability.String("keyPrefix", cfg.KeyPrefix))

	return c, nil
}

// NewRedisWithClient wraps an existing Redis client, for callers that
// share one client between the cache and the invalidation bus. Close
// closes the underlying client.
func NewRedisWithClient(client *redis.Client, keyPrefix string, logger observability.Logger) Cache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// applyPoolOptions applies pool and timeout configuration overrides.
func applyPoolOptions(opts *redis.Options, cfg *config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "get",
		).Observe(time.Since(start).Seconds())
	}()

	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(val)))
		return val, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		return nil, ErrCacheMiss
	}

	GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
	c.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value in the cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		c.logger.Error("redis set failed",
			observability.String("key", key),
			observability.Error(err))
		return err
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("size", len(value)))
	return nil
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "delete",
		).Observe(time.Since(start).Seconds())
	}()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		c.logger.Error("redis delete failed",
			observability.String("key", key),
			observability.Error(err))
		return err
	}

	c.logger.Debug("cache deleted",
		observability.String("key", key))
	return nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.logger.Info("redis cache closing")
	return c.client.Close()
}

// Stats returns hit/miss counters for the cache.
func (c *redisCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Ensure redisCache implements Cache.
var _ Cache = (*redisCache)(nil)
