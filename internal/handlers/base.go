package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// ParseFlagKey reads and checks the flag key path parameter
func ParseFlagKey(c echo.Context) (string, error) {
	key := c.Param("key")
	if key == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing flag key")
	}
	return key, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// InvalidationFailed returns a 502 for the fail-closed mutation path: the
// store committed but readers may still see the old snapshot, so the mutation
// must not claim success.
func InvalidationFailed(flagKey string) error {
	return httperror.NewHTTPErrorf(http.StatusBadGateway,
		"flag %s was saved but cache invalidation failed; state may be stale until retried", flagKey)
}
