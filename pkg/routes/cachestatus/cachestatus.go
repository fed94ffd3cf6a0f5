package cachestatus

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/evaluation"
)

// Register registers cache diagnostic and invalidation routes
func Register(e *echo.Echo) {
	e.GET("/cache", ListCached)
	e.DELETE("/cache/:flag_key", Invalidate)
}

// ListCached handles GET /cache
func ListCached(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	keys, err := svc.ListCachedFlags(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// Invalidate handles DELETE /cache/:flag_key; with no environment query
// parameter the whole flag is invalidated. The control plane does not call
// this endpoint: its mutation handlers delete the shared cache keys directly.
func Invalidate(c echo.Context) error {
	ctx := c.Request().Context()

	flagKey := c.Param("flag_key")
	if flagKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing flag_key")
	}
	environment := c.QueryParam("environment")

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	if err := svc.InvalidateCache(ctx, flagKey, environment); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"invalidated": flagKey,
		"environment": environment,
	})
}
