package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FlagHandler handles flag authoring requests. Every mutation follows the
// same ordering contract: store transaction commits, then the affected cache
// keys are invalidated, and only then is the response sent. A failed
// invalidation fails the request even though the store committed.
type FlagHandler struct {
	flags        repositories.FlagRepo
	configs      repositories.FlagConfigRepo
	environments repositories.EnvironmentRepo
	cache        *cache.ConfigCache
	producer     *events.Producer
	logger       ectologger.Logger
}

// NewFlagHandler creates a new flag handler. The producer may be nil when
// event publishing is disabled.
func NewFlagHandler(
	flags repositories.FlagRepo,
	configs repositories.FlagConfigRepo,
	environments repositories.EnvironmentRepo,
	configCache *cache.ConfigCache,
	producer *events.Producer,
	logger ectologger.Logger,
) *FlagHandler {
	return &FlagHandler{
		flags:        flags,
		configs:      configs,
		environments: environments,
		cache:        configCache,
		producer:     producer,
		logger:       logger,
	}
}

// CreateFlagRequest is the request body for creating a flag
type CreateFlagRequest struct {
	Key         string                     `json:"key" validate:"required"`
	Name        string                     `json:"name" validate:"required"`
	Description *string                    `json:"description,omitempty"`
	FlagType    models.FlagType            `json:"flag_type,omitempty"`
	Variants    []repositories.VariantInput `json:"variants,omitempty" validate:"omitempty,dive"`
}

// UpdateFlagRequest is the request body for updating flag metadata
type UpdateFlagRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// KillSwitchRequest is the request body for the kill switch
type KillSwitchRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RegisterRoutes registers the flag routes
func (h *FlagHandler) RegisterRoutes(g *echo.Group) {
	flags := g.Group("/flags")
	flags.GET("", h.List)
	flags.POST("", h.Create)
	flags.GET("/:key", h.Get)
	flags.PUT("/:key", h.Update)
	flags.DELETE("/:key", h.Delete)
	flags.PUT("/:key/environments/:env", h.UpdateConfig)
	flags.PATCH("/:key/environments/:env/toggle", h.Toggle)
	flags.POST("/:key/kill-switch", h.KillSwitch)

	g.GET("/environments", h.ListEnvironments)
}

// List handles GET /flags
func (h *FlagHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	activeOnly := c.QueryParam("active_only") != "false"

	flags, total, err := h.flags.List(ctx, page, perPage, activeOnly)
	if err != nil {
		return err
	}

	return SuccessResponse(c, map[string]any{
		"flags": flags,
		"total": total,
	})
}

// Create handles POST /flags
func (h *FlagHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateFlagRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}
	if !models.FlagKeyPattern.MatchString(req.Key) {
		return BadRequest("flag key must match [a-z0-9_]+")
	}
	if req.FlagType != "" && !req.FlagType.Valid() {
		return BadRequest("flag_type must be one of boolean, string, number, json")
	}

	flag, err := h.flags.Create(ctx, &repositories.CreateFlagRequest{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		FlagType:    req.FlagType,
		Variants:    req.Variants,
	})
	if err != nil {
		return err
	}

	metrics.RecordConfigChange("create")
	h.publish(c, events.TypeFlagCreated, flag.Key, nil, "")

	return CreatedResponse(c, flag)
}

// Get handles GET /flags/:key
func (h *FlagHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}

	flag, err := h.flags.GetByKey(ctx, key)
	if err != nil {
		return err
	}

	return SuccessResponse(c, flag)
}

// Update handles PUT /flags/:key
func (h *FlagHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}

	var req UpdateFlagRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}

	flag, err := h.flags.UpdateMeta(ctx, key, req.Name, req.Description)
	if err != nil {
		return err
	}

	// Cached snapshots embed the flag metadata, so every environment is stale.
	if err := h.cache.InvalidateFlag(ctx, key); err != nil {
		return InvalidationFailed(key)
	}

	metrics.RecordConfigChange("update")
	h.publish(c, events.TypeFlagUpdated, flag.Key, nil, "")

	return SuccessResponse(c, flag)
}

// Delete handles DELETE /flags/:key. The flag is soft-deleted and every
// cached snapshot for it is dropped before the response returns.
func (h *FlagHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}

	if err := h.flags.SoftDelete(ctx, key); err != nil {
		return err
	}

	if err := h.cache.InvalidateFlag(ctx, key); err != nil {
		return InvalidationFailed(key)
	}

	metrics.RecordConfigChange("delete")
	h.publish(c, events.TypeFlagDeleted, key, nil, "")

	return NoContentResponse(c)
}

// UpdateConfig handles PUT /flags/:key/environments/:env
func (h *FlagHandler) UpdateConfig(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}
	env, err := h.parseEnvironment(c)
	if err != nil {
		return err
	}

	var patch repositories.ConfigPatch
	if err := c.Bind(&patch); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(patch); err != nil {
		return BadRequest(err.Error())
	}

	config, err := h.configs.UpdateConfig(ctx, key, env, &patch)
	if err != nil {
		return err
	}

	if err := h.cache.Invalidate(ctx, key, env); err != nil {
		return InvalidationFailed(key)
	}

	metrics.RecordConfigChange("update_config")
	h.publish(c, events.TypeFlagUpdated, key, []string{env}, "")

	return SuccessResponse(c, config)
}

// ToggleRequest is the request body for toggling a flag
type ToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// Toggle handles PATCH /flags/:key/environments/:env/toggle
func (h *FlagHandler) Toggle(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}
	env, err := h.parseEnvironment(c)
	if err != nil {
		return err
	}

	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if req.Enabled == nil {
		return BadRequest("enabled is required and must be a boolean")
	}

	config, err := h.configs.Toggle(ctx, key, env, *req.Enabled)
	if err != nil {
		return err
	}

	if err := h.cache.Invalidate(ctx, key, env); err != nil {
		return InvalidationFailed(key)
	}

	metrics.RecordConfigChange("toggle")
	h.publish(c, events.TypeFlagUpdated, key, []string{env}, "")

	return SuccessResponse(c, config)
}

// KillSwitch handles POST /flags/:key/kill-switch. One logical operation:
// disable everywhere, invalidate everywhere, respond.
func (h *FlagHandler) KillSwitch(c echo.Context) error {
	ctx := c.Request().Context()

	key, err := ParseFlagKey(c)
	if err != nil {
		return err
	}

	var req KillSwitchRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest("reason is required")
	}

	environments, err := h.configs.DisableAll(ctx, key, req.Reason)
	if err != nil {
		return err
	}

	if err := h.cache.InvalidateFlag(ctx, key); err != nil {
		return InvalidationFailed(key)
	}

	metrics.RecordKillSwitch()
	h.publish(c, events.TypeFlagKilled, key, environments, req.Reason)

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"flag_key": key,
		"reason":   req.Reason,
	}).Warnf("Kill switch activated for %s", key)

	return SuccessResponse(c, map[string]any{
		"flag_key":     key,
		"disabled":     true,
		"environments": environments,
	})
}

// ListEnvironments handles GET /environments
func (h *FlagHandler) ListEnvironments(c echo.Context) error {
	ctx := c.Request().Context()

	environments, err := h.environments.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, environments)
}

// parseEnvironment validates the :env path parameter against the known
// environments. An unknown environment is a caller mistake, not a 404.
func (h *FlagHandler) parseEnvironment(c echo.Context) (string, error) {
	env := c.Param("env")
	if env == "" {
		return "", BadRequest("missing environment")
	}

	if _, err := h.environments.GetByName(c.Request().Context(), env); err != nil {
		return "", BadRequest("unknown environment: " + env)
	}

	return env, nil
}

// publish emits a flag change event. Publishing is best-effort and runs
// after invalidation; the mutation outcome never depends on it.
func (h *FlagHandler) publish(c echo.Context, eventType, flagKey string, environments []string, reason string) {
	if h.producer == nil {
		return
	}

	ctx := c.Request().Context()
	evt := &events.FlagEventMessage{
		Type:         eventType,
		FlagKey:      flagKey,
		Environments: environments,
		Actor:        appctx.GetActor(ctx),
		Reason:       reason,
	}
	if err := h.producer.Publish(ctx, evt); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish %s event for %s", eventType, flagKey)
	}
}
