package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const keyPrefix = "flag_config"

// DefaultTTL bounds how long a stale snapshot can live if invalidation is
// missed. Invalidation, not expiry, is the freshness mechanism.
const DefaultTTL = 300 * time.Second

// ErrCacheMiss is returned when no snapshot is cached for the key.
var ErrCacheMiss = errors.New("config cache miss")

// ConfigCache stores pre-joined flag snapshots keyed by (flag, environment).
type ConfigCache struct {
	client *Client
	ttl    time.Duration
	logger ectologger.Logger
}

// NewConfigCache creates a snapshot cache over the shared Redis client.
func NewConfigCache(client *Client, ttl time.Duration, logger ectologger.Logger) *ConfigCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ConfigCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// CacheKey builds the canonical key for a (flag, environment) pair.
func CacheKey(flagKey, environment string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, flagKey, environment)
}

// Get returns the cached snapshot, or ErrCacheMiss.
func (c *ConfigCache) Get(ctx context.Context, flagKey, environment string) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "ConfigCache.Get")
	defer span.End()

	raw, err := c.client.Get(ctx, CacheKey(flagKey, environment))
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A corrupt entry is worse than a miss; drop it so the next read
		// refills from the store.
		c.logger.WithContext(ctx).WithError(err).Warnf("Dropping corrupt cache entry for %s/%s", flagKey, environment)
		_ = c.client.Del(ctx, CacheKey(flagKey, environment))
		return nil, ErrCacheMiss
	}

	return &snap, nil
}

// Set stores the snapshot under the pair's key with the configured TTL.
func (c *ConfigCache) Set(ctx context.Context, snap *models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigCache.Set")
	defer span.End()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, CacheKey(snap.Flag.Key, snap.Config.Environment), raw, c.ttl)
}

// Invalidate deletes the snapshot for one (flag, environment) pair.
func (c *ConfigCache) Invalidate(ctx context.Context, flagKey, environment string) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigCache.Invalidate")
	defer span.End()

	if err := c.client.Del(ctx, CacheKey(flagKey, environment)); err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("Failed to invalidate cache for %s/%s", flagKey, environment)
		return err
	}

	metrics.CacheInvalidationsTotal.WithLabelValues("single").Inc()
	c.logger.WithContext(ctx).Debugf("Invalidated cache for %s/%s", flagKey, environment)
	return nil
}

// InvalidateFlag deletes every cached snapshot for the flag across all
// environments using a scan over flag_config:<flag>:*.
func (c *ConfigCache) InvalidateFlag(ctx context.Context, flagKey string) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigCache.InvalidateFlag")
	defer span.End()

	keys, err := c.client.Scan(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, flagKey))
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("Failed to scan cache keys for %s", flagKey)
		return err
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...); err != nil {
			c.logger.WithContext(ctx).WithError(err).Errorf("Failed to invalidate %d cache keys for %s", len(keys), flagKey)
			return err
		}
	}

	metrics.CacheInvalidationsTotal.WithLabelValues("flag").Inc()
	c.logger.WithContext(ctx).Debugf("Invalidated %d cache entries for %s", len(keys), flagKey)
	return nil
}

// ListKeys returns the cached (flag, environment) pairs, for diagnostics.
func (c *ConfigCache) ListKeys(ctx context.Context) ([]string, error) {
	return c.client.Scan(ctx, keyPrefix+":*")
}

// CachedCount returns how many snapshots are currently cached.
func (c *ConfigCache) CachedCount(ctx context.Context) (int, error) {
	keys, err := c.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// SplitKey parses a cache key back into its flag key and environment.
func SplitKey(key string) (flagKey, environment string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != keyPrefix {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Ping reports whether the backing Redis is reachable.
func (c *ConfigCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}
