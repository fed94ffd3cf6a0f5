package evaluate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	appconfig "github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/evaluation"
)

// Register registers evaluation routes
func Register(e *echo.Echo) {
	e.POST("/evaluate", Evaluate)
	e.POST("/evaluate/batch", EvaluateBatch)
	e.GET("/stats", Stats)
}

// Evaluate handles POST /evaluate. A well-formed request never produces a
// 5xx: infrastructure faults degrade to the caller's default value.
func Evaluate(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	var req evaluation.Request
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FlagKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "flag_key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceDeadline(ctx))
	defer cancel()

	result, err := svc.Evaluate(ctx, &req)
	if err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return httperror.NewHTTPError(http.StatusRequestTimeout, "evaluation deadline exceeded")
	}

	return c.JSON(http.StatusOK, result)
}

// BatchRequest is the request body for batch evaluation
type BatchRequest struct {
	Requests []*evaluation.Request `json:"requests"`
}

// BatchResponse is the response body for batch evaluation
type BatchResponse struct {
	Results []*evaluation.Result `json:"results"`
}

// EvaluateBatch handles POST /evaluate/batch. Size is validated before any
// element evaluates; an oversized batch is a 400 with no side effects.
func EvaluateBatch(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceDeadline(ctx))
	defer cancel()

	results, err := svc.EvaluateBatch(ctx, req.Requests)
	if err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return httperror.NewHTTPError(http.StatusRequestTimeout, "evaluation deadline exceeded")
	}

	return c.JSON(http.StatusOK, BatchResponse{Results: results})
}

// StatsResponse reports cache and store counts
type StatsResponse struct {
	CachedFlags int `json:"cached_flags"`
	TotalFlags  int `json:"total_flags"`
}

// Stats handles GET /stats
func Stats(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	cached, total, err := svc.Stats(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, StatsResponse{CachedFlags: cached, TotalFlags: total})
}

// DefaultDeadline bounds evaluation service time when no override is set.
const DefaultDeadline = 5 * time.Second

// serviceDeadline resolves the configured evaluation deadline.
func serviceDeadline(ctx context.Context) time.Duration {
	_, cfg, err := ectoinject.GetContext[*appconfig.Config](ctx)
	if err != nil || cfg.EvaluationTimeout <= 0 {
		return DefaultDeadline
	}
	return cfg.EvaluationTimeout
}
