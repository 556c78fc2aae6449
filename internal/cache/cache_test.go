package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{RedisURL: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = buildRedisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	_, err = buildRedisOptions(config.CacheConfig{RedisURL: "://bad"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	key := domain.SKUKey{SKU: "SKU-1", Warehouse: "WH-JKT"}
	anchor := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "seasonal_profile:SKU-1:WH-JKT:2024-12", profileKey(key, anchor))
	assert.Equal(t, "forecast:latest:SKU-1:WH-JKT", latestKey(key))
}

func TestTTLOrDefault(t *testing.T) {
	assert.Equal(t, 30*time.Second, ttlOrDefault(30, time.Minute))
	assert.Equal(t, time.Minute, ttlOrDefault(0, time.Minute))
}

func TestDisabledCacheIsNoop(t *testing.T) {
	ctx := context.Background()
	c, err := NewForecastCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)

	key := domain.SKUKey{SKU: "SKU-1", Warehouse: "WH-JKT"}
	require.NoError(t, c.SetProfile(ctx, key, time.Now(), &domain.SeasonalProfile{}))

	_, found, err := c.GetProfile(ctx, key, time.Now())
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = c.GetLatest(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.InvalidateAll(ctx))
}
