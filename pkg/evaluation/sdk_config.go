package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SDKConfig is the polling payload served to SDKs. It carries the full
// snapshot set for the environment so clients can evaluate locally, plus the
// interval the server wants clients to poll at.
type SDKConfig struct {
	Environment    string                     `json:"environment"`
	PollIntervalMs int64                      `json:"poll_interval_ms"`
	Flags          map[string]models.Snapshot `json:"flags"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// BuildSDKConfig assembles the environment's snapshot set and its ETag. The
// ETag is a digest of the flag payload only, so a new GeneratedAt timestamp
// alone never invalidates a client's 304.
func (s *Service) BuildSDKConfig(ctx context.Context, environment string) (*SDKConfig, string, error) {
	ctx, span := tracing.StartSpan(ctx, "Evaluation.BuildSDKConfig")
	defer span.End()

	if environment == "" {
		environment = DefaultEnvironment
	}

	snapshots, err := s.configs.ListSnapshots(ctx, environment)
	if err != nil {
		return nil, "", err
	}

	flags := make(map[string]models.Snapshot, len(snapshots))
	for _, snap := range snapshots {
		flags[snap.Flag.Key] = snap
	}

	payload, err := json.Marshal(flags)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(payload)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`

	return &SDKConfig{
		Environment:    environment,
		PollIntervalMs: s.config.PollInterval.Milliseconds(),
		Flags:          flags,
		GeneratedAt:    time.Now().UTC(),
	}, etag, nil
}

// Stats reports cached and total flag counts for the diagnostics endpoint.
func (s *Service) Stats(ctx context.Context) (cached int, total int, err error) {
	cached, err = s.cache.CachedCount(ctx)
	if err != nil {
		// Cache stats degrade to zero; the store count still reports.
		s.logger.WithContext(ctx).WithError(err).Warn("failed to count cached flags")
		cached = 0
	}

	total, _, err = s.flags.CountAll(ctx)
	if err != nil {
		return cached, 0, err
	}
	return cached, total, nil
}

// ListCachedFlags returns the cache keys currently holding snapshots.
func (s *Service) ListCachedFlags(ctx context.Context) ([]string, error) {
	return s.cache.ListKeys(ctx)
}

// InvalidateCache drops one (flag, environment) snapshot, or the whole flag
// when no environment is given. It backs the DELETE /cache/:flag_key route;
// the control plane's mutation handlers invalidate the shared cache directly
// and do not call it.
func (s *Service) InvalidateCache(ctx context.Context, flagKey, environment string) error {
	if environment == "" {
		return s.cache.InvalidateFlag(ctx, flagKey)
	}
	return s.cache.Invalidate(ctx, flagKey, environment)
}
