package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
)

const (
	// HeaderAPIKey carries the admin credential.
	HeaderAPIKey = "X-API-Key"
)

// Authentication gates admin endpoints behind the shared API key. The
// credential is accepted from X-API-Key or an Authorization bearer and
// compared constant-time.
func Authentication(logger ectologger.Logger, apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if apiKey == "" {
				logger.WithContext(ctx).Warn("API_KEY is not configured; rejecting admin request")
				return echo.NewHTTPError(http.StatusUnauthorized, "admin API is not configured")
			}

			credential := c.Request().Header.Get(HeaderAPIKey)
			if credential == "" {
				auth := c.Request().Header.Get("Authorization")
				if !strings.HasPrefix(auth, "Bearer ") {
					logger.WithContext(ctx).Warn("request is missing credentials")
					return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
				}
				credential = strings.TrimPrefix(auth, "Bearer ")
			}

			if subtle.ConstantTimeCompare([]byte(credential), []byte(apiKey)) != 1 {
				logger.WithContext(ctx).Warn("credential is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
			}

			return next(c)
		}
	}
}
