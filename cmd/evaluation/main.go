package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	appconfig "github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/engine"
	"github.com/Ramsey-B/clover/pkg/evaluation"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/routes/cachestatus"
	"github.com/Ramsey-B/clover/pkg/routes/evaluate"
	"github.com/Ramsey-B/clover/pkg/routes/sdkconfig"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

const serviceName = "clover-evaluation"

func main() {
	_ = godotenv.Load()

	var cfg appconfig.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	ctx := context.Background()

	shutdownTracing, err := tracing.InitProvider(ctx, tracing.ProviderConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		OTLPEnabled: cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		},
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	var db database.DB
	var cacheClient *cache.Client

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.FuncDependency{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(ctx, database.Config{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUser,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxConnections,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})
	boot.AddDependency(&startup.FuncDependency{
		Name:  "redis",
		Needs: []string{"database"},
		StartFunc: func(ctx context.Context) error {
			var err error
			cacheClient, err = cache.NewClient(cache.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				Prefix:   cfg.RedisPrefix,
			}, logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if cacheClient == nil {
				return nil
			}
			return cacheClient.Close()
		},
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	configCache := cache.NewConfigCache(cacheClient, cfg.CacheTTL, logger)
	flagRepo := repositories.NewFlagRepository(db, logger)
	configRepo := repositories.NewFlagConfigRepository(db, logger)
	evalRepo := repositories.NewEvaluationRepository(db, logger)

	svc := evaluation.NewService(configRepo, flagRepo, evalRepo, configCache, engine.New(), evaluation.Config{
		SampleRate:   cfg.EvaluationSampleRate,
		PollInterval: cfg.SDKPollInterval,
	}, logger)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		logger.WithError(err).Error("failed to create DI container")
		os.Exit(1)
	}
	if err := ectoinject.RegisterInstance[*evaluation.Service](container, svc); err != nil {
		logger.WithError(err).Error("failed to register evaluation service")
		os.Exit(1)
	}
	if err := ectoinject.RegisterInstance[*appconfig.Config](container, &cfg); err != nil {
		logger.WithError(err).Error("failed to register config")
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(serviceName))
	if cfg.RequestLogging {
		e.Use(middleware.Logger(logger))
	}
	if cfg.CORSEnabled {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
		}))
	}

	checker := health.NewChecker(db, cacheClient, serviceName)
	checker.RegisterRoutes(e)
	evaluate.Register(e)
	cachestatus.Register(e)
	sdkconfig.Register(e)

	metricsServer := metrics.NewServer(cfg.MetricsPort, serviceName, logger)
	if err := metricsServer.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start metrics server")
		os.Exit(1)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.EvaluationServicePort)
		logger.Infof("Evaluation service listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("evaluation service stopped")
			os.Exit(1)
		}
	}()

	checker.SetReady(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down evaluation service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	checker.SetReady(false)
	_ = e.Shutdown(shutdownCtx)
	_ = metricsServer.Stop(shutdownCtx)
	_ = boot.Stop(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)
}
