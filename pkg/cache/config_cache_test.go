package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/models"
)

func newTestCache(t *testing.T) (*cache.ConfigCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	client := cache.NewClientFromRedis(rdb, "", logger)
	return cache.NewConfigCache(client, 300*time.Second, logger), mr
}

func testSnapshot(flagKey, environment string) *models.Snapshot {
	flagID := uuid.New()
	return &models.Snapshot{
		Flag: models.Flag{
			ID:       flagID,
			Key:      flagKey,
			Name:     flagKey,
			FlagType: models.FlagTypeBoolean,
			Active:   true,
		},
		Config: models.FlagConfig{
			ID:                uuid.New(),
			FlagID:            flagID,
			Environment:       environment,
			Enabled:           true,
			DefaultVariant:    "false",
			RolloutPercentage: 50,
		},
		Variants: []models.Variant{
			{FlagID: flagID, VariantKey: "true", Value: "true", Weight: 50},
			{FlagID: flagID, VariantKey: "false", Value: "false", Weight: 50},
		},
	}
}

func TestConfigCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	snap := testSnapshot("dark_mode", "production")
	require.NoError(t, c.Set(ctx, snap))

	got, err := c.Get(ctx, "dark_mode", "production")
	require.NoError(t, err)

	assert.Equal(t, snap.Flag.Key, got.Flag.Key)
	assert.Equal(t, snap.Config.Environment, got.Config.Environment)
	assert.Equal(t, snap.Config.RolloutPercentage, got.Config.RolloutPercentage)
	assert.Len(t, got.Variants, 2)
}

func TestConfigCache_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "missing", "production")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestConfigCache_InvalidateSingle(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testSnapshot("dark_mode", "production")))
	require.NoError(t, c.Set(ctx, testSnapshot("dark_mode", "staging")))

	require.NoError(t, c.Invalidate(ctx, "dark_mode", "production"))

	_, err := c.Get(ctx, "dark_mode", "production")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// The other environment is untouched.
	_, err = c.Get(ctx, "dark_mode", "staging")
	assert.NoError(t, err)
}

func TestConfigCache_InvalidateFlag(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, env := range []string{"development", "staging", "production"} {
		require.NoError(t, c.Set(ctx, testSnapshot("dark_mode", env)))
	}
	require.NoError(t, c.Set(ctx, testSnapshot("other_flag", "production")))

	require.NoError(t, c.InvalidateFlag(ctx, "dark_mode"))

	for _, env := range []string{"development", "staging", "production"} {
		_, err := c.Get(ctx, "dark_mode", env)
		assert.ErrorIs(t, err, cache.ErrCacheMiss, "environment %s should be invalidated", env)
	}

	// Unrelated flags survive the pattern delete.
	_, err := c.Get(ctx, "other_flag", "production")
	assert.NoError(t, err)
}

func TestConfigCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	c := cache.NewConfigCache(cache.NewClientFromRedis(rdb, "", logger), 10*time.Second, logger)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, testSnapshot("dark_mode", "production")))

	mr.FastForward(11 * time.Second)

	_, err := c.Get(ctx, "dark_mode", "production")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestConfigCache_CorruptEntryBecomesMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(cache.CacheKey("dark_mode", "production"), "{not json"))

	_, err := c.Get(ctx, "dark_mode", "production")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// The corrupt entry was dropped.
	assert.False(t, mr.Exists(cache.CacheKey("dark_mode", "production")))
}

func TestConfigCache_ListAndCount(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testSnapshot("a_flag", "production")))
	require.NoError(t, c.Set(ctx, testSnapshot("b_flag", "staging")))

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	count, err := c.CachedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSplitKey(t *testing.T) {
	flag, env, ok := cache.SplitKey(cache.CacheKey("dark_mode", "production"))
	require.True(t, ok)
	assert.Equal(t, "dark_mode", flag)
	assert.Equal(t, "production", env)

	_, _, ok = cache.SplitKey("something:else")
	assert.False(t, ok)
}
