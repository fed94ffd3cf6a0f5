package sdkconfig

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/evaluation"
)

// Register registers the SDK config route
func Register(e *echo.Echo) {
	e.GET("/sdk/config", GetConfig)
}

// GetConfig handles GET /sdk/config. The response is ETag-conditional: a
// client polling with If-None-Match gets 304 until the environment's flag
// state actually changes.
func GetConfig(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*evaluation.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "evaluation service unavailable")
	}

	environment := c.QueryParam("environment")

	payload, etag, err := svc.BuildSDKConfig(ctx, environment)
	if err != nil {
		return err
	}

	if match := c.Request().Header.Get("If-None-Match"); match != "" && match == etag {
		c.Response().Header().Set("ETag", etag)
		return c.NoContent(http.StatusNotModified)
	}

	c.Response().Header().Set("ETag", etag)
	return c.JSON(http.StatusOK, payload)
}
