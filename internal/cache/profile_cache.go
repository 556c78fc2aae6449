package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

const (
	seasonalProfileKeyPrefix = "seasonal_profile"
	latestForecastKeyPrefix  = "forecast:latest"
	scanBatchSize            = 100

	defaultProfileTTL  = 24 * time.Hour
	defaultForecastTTL = 10 * time.Minute
)

// ForecastCache keeps seasonal profiles per anchor month, and the latest forecast served by the API.
type ForecastCache interface {
	GetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time) (*domain.SeasonalProfile, bool, error)
	SetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time, profile *domain.SeasonalProfile) error
	GetLatest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, bool, error)
	SetLatest(ctx context.Context, result *domain.ForecastResult) error
	InvalidateLatest(ctx context.Context, key domain.SKUKey) error
	InvalidateAll(ctx context.Context) error
}

type redisForecastCache struct {
	client      *redis.Client
	profileTTL  time.Duration
	forecastTTL time.Duration
}

type noopForecastCache struct{}

func NewForecastCache(cfg config.CacheConfig) (ForecastCache, error) {
	if !cfg.Enabled {
		return &noopForecastCache{}, nil
	}

	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return &redisForecastCache{
		client:      client,
		profileTTL:  ttlOrDefault(cfg.ProfileTTLSeconds, defaultProfileTTL),
		forecastTTL: ttlOrDefault(cfg.ForecastTTLSeconds, defaultForecastTTL),
	}, nil
}

func NewNoopForecastCache() ForecastCache {
	return &noopForecastCache{}
}

func (c *redisForecastCache) GetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time) (*domain.SeasonalProfile, bool, error) {
	var profile domain.SeasonalProfile
	found, err := c.get(ctx, profileKey(key, anchor), &profile)
	if err != nil || !found {
		return nil, false, err
	}
	return &profile, true, nil
}

func (c *redisForecastCache) SetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time, profile *domain.SeasonalProfile) error {
	if profile == nil {
		return nil
	}
	return c.set(ctx, profileKey(key, anchor), profile, c.profileTTL)
}

func (c *redisForecastCache) GetLatest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, bool, error) {
	var result domain.ForecastResult
	found, err := c.get(ctx, latestKey(key), &result)
	if err != nil || !found {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *redisForecastCache) SetLatest(ctx context.Context, result *domain.ForecastResult) error {
	return c.set(ctx, latestKey(result.Key()), result, c.forecastTTL)
}

func (c *redisForecastCache) InvalidateLatest(ctx context.Context, key domain.SKUKey) error {
	return c.client.Del(ctx, latestKey(key)).Err()
}

func (c *redisForecastCache) InvalidateAll(ctx context.Context) error {
	if err := deleteKeysWithPrefix(ctx, c.client, seasonalProfileKeyPrefix, scanBatchSize); err != nil {
		return err
	}
	return deleteKeysWithPrefix(ctx, c.client, latestForecastKeyPrefix, scanBatchSize)
}

func (c *redisForecastCache) get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *redisForecastCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (n *noopForecastCache) GetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time) (*domain.SeasonalProfile, bool, error) {
	return nil, false, nil
}

func (n *noopForecastCache) SetProfile(ctx context.Context, key domain.SKUKey, anchor time.Time, profile *domain.SeasonalProfile) error {
	return nil
}

func (n *noopForecastCache) GetLatest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, bool, error) {
	return nil, false, nil
}

func (n *noopForecastCache) SetLatest(ctx context.Context, result *domain.ForecastResult) error {
	return nil
}

func (n *noopForecastCache) InvalidateLatest(ctx context.Context, key domain.SKUKey) error {
	return nil
}

func (n *noopForecastCache) InvalidateAll(ctx context.Context) error {
	return nil
}

// profileKey is seasonal_profile:<sku>:<warehouse>:<anchor YYYY-MM>.
func profileKey(key domain.SKUKey, anchor time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", seasonalProfileKeyPrefix, key.SKU, key.Warehouse, domain.FormatMonth(anchor))
}

func latestKey(key domain.SKUKey) string {
	return fmt.Sprintf("%s:%s:%s", latestForecastKeyPrefix, key.SKU, key.Warehouse)
}
