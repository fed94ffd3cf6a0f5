package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/middleware"
)

func newAuthedEcho(apiKey string) *echo.Echo {
	e := echo.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	api := e.Group("/api", middleware.Authentication(logger, apiKey))
	api.GET("/flags", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "healthy")
	})
	return e
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing credentials", "", "", http.StatusUnauthorized},
		{"wrong api key", middleware.HeaderAPIKey, "wrong", http.StatusUnauthorized},
		{"correct api key", middleware.HeaderAPIKey, "sekret", http.StatusOK},
		{"correct bearer", "Authorization", "Bearer sekret", http.StatusOK},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"malformed authorization", "Authorization", "Basic sekret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAuthedEcho("sekret")

			req := httptest.NewRequest(http.MethodGet, "/api/flags", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAuthentication_HealthIsOpen(t *testing.T) {
	e := newAuthedEcho("sekret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication_UnconfiguredKeyRejectsAll(t *testing.T) {
	e := newAuthedEcho("")

	req := httptest.NewRequest(http.MethodGet, "/api/flags", nil)
	req.Header.Set(middleware.HeaderAPIKey, "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
