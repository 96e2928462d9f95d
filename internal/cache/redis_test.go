package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/observability"
)

// setupRedisCache creates a miniredis-backed cache for testing.
func setupRedisCache(t *testing.T, prefix string) (*miniredis.Miniredis, Cache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedis(&config.RedisConfig{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: prefix,
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return mr, c
}

func TestNewRedis(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.RedisConfig
		expectErr bool
	}{
		{
			name:      "nil config",
			cfg:       nil,
			expectErr: true,
		},
		{
			name:      "empty url",
			cfg:       &config.RedisConfig{},
			expectErr: true,
		},
		{
			name:      "malformed url",
			cfg:       &config.RedisConfig{URL: "not-a-url"},
			expectErr: true,
		},
		{
			name:      "unreachable server",
			cfg:       &config.RedisConfig{URL: "redis://127.0.0.1:1"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedis(tt.cfg, observability.NopLogger())
			assert.Error(t, err)
		})
	}

	t.Run("valid config", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		c, err := NewRedis(&config.RedisConfig{
			URL:            "redis://" + mr.Addr(),
			PoolSize:       4,
			ConnectTimeout: config.Duration(time.Second),
			ReadTimeout:    config.Duration(time.Second),
			WriteTimeout:   config.Duration(time.Second),
		}, observability.NopLogger())
		require.NoError(t, err)
		assert.NoError(t, c.Close())
	})
}

func TestRedisGetSet(t *testing.T) {
	_, c := setupRedisCache(t, "")
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	val, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)
}

func TestRedisKeyPrefix(t *testing.T) {
	mr, c := setupRedisCache(t, "kw:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	raw, err := mr.Get("kw:key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", raw)
}

func TestRedisSetTTL(t *testing.T) {
	mr, c := setupRedisCache(t, "")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "temp", []byte("v"), 24*time.Hour))
	assert.Equal(t, 24*time.Hour, mr.TTL("temp"))

	// No expiration when TTL is zero.
	require.NoError(t, c.Set(ctx, "perm", []byte("v"), 0))
	assert.Zero(t, mr.TTL("perm"))

	// Expired entries miss.
	mr.FastForward(25 * time.Hour)
	_, err := c.Get(ctx, "temp")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisDelete(t *testing.T) {
	_, c := setupRedisCache(t, "")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "key1"))

	_, err := c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, c.Delete(ctx, "missing"))
}

func TestRedisServerDown(t *testing.T) {
	mr, c := setupRedisCache(t, "")
	ctx := context.Background()

	mr.Close()

	_, err := c.Get(ctx, "key1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.Error(t, c.Set(ctx, "key1", []byte("v"), 0))
	assert.Error(t, c.Delete(ctx, "key1"))
}

func TestRedisContextDeadline(t *testing.T) {
	_, c := setupRedisCache(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "key1")
	assert.Error(t, err)
}
