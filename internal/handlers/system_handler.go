package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

// SystemHandler serves operator diagnostics: the system overview and cache
// status, plus the admin-side cache purge.
type SystemHandler struct {
	flags        repositories.FlagRepo
	configs      repositories.FlagConfigRepo
	environments repositories.EnvironmentRepo
	cache        *cache.ConfigCache
	logger       ectologger.Logger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(
	flags repositories.FlagRepo,
	configs repositories.FlagConfigRepo,
	environments repositories.EnvironmentRepo,
	configCache *cache.ConfigCache,
	logger ectologger.Logger,
) *SystemHandler {
	return &SystemHandler{
		flags:        flags,
		configs:      configs,
		environments: environments,
		cache:        configCache,
		logger:       logger,
	}
}

// RegisterRoutes registers the system routes
func (h *SystemHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/system/overview", h.Overview)
	g.GET("/cache/status", h.CacheStatus)
	g.DELETE("/cache/flags/:key", h.PurgeFlag)
}

// Overview handles GET /system/overview
func (h *SystemHandler) Overview(c echo.Context) error {
	ctx := c.Request().Context()

	total, active, err := h.flags.CountAll(ctx)
	if err != nil {
		return err
	}

	enabledByEnv, err := h.configs.CountEnabledByEnvironment(ctx)
	if err != nil {
		return err
	}

	environments, err := h.environments.List(ctx)
	if err != nil {
		return err
	}

	envSummaries := make([]map[string]any, 0, len(environments))
	for _, env := range environments {
		envSummaries = append(envSummaries, map[string]any{
			"name":    env.Name,
			"enabled": enabledByEnv[env.Name],
		})
	}

	cached, err := h.cache.CachedCount(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("failed to count cached flags")
		cached = 0
	}

	return SuccessResponse(c, map[string]any{
		"flags": map[string]any{
			"total":  total,
			"active": active,
		},
		"environments": envSummaries,
		"cache": map[string]any{
			"cached_flags": cached,
		},
	})
}

// CacheStatus handles GET /cache/status
func (h *SystemHandler) CacheStatus(c echo.Context) error {
	ctx := c.Request().Context()

	keys, err := h.cache.ListKeys(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// PurgeFlag handles DELETE /cache/flags/:key
func (h *SystemHandler) PurgeFlag(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}

	if err := h.cache.InvalidateFlag(ctx, key); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]any{
		"invalidated": key,
	})
}
