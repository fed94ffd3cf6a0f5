package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus exposition endpoint and a liveness probe on
// the metrics port, separate from the service traffic ports.
type Server struct {
	echo    *echo.Echo
	port    int
	service string
	logger  ectologger.Logger
}

// NewServer creates the metrics sidecar server.
func NewServer(port int, service string, logger ectologger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   service + "-metrics",
			"timestamp": time.Now().UTC(),
		})
	})

	return &Server{echo: e, port: port, service: service, logger: logger}
}

// GetName implements startup.StartupDependency.
func (s *Server) GetName() string {
	return "metrics-server"
}

// DependsOn implements startup.StartupDependency.
func (s *Server) DependsOn() []string {
	return nil
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		addr := fmt.Sprintf(":%d", s.port)
		s.logger.Infof("Metrics server listening on %s", addr)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
