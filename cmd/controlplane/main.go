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
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	appconfig "github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

const serviceName = "clover-controlplane"

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
	var sqlxDB *sqlx.DB
	var cacheClient *cache.Client
	var producer *events.Producer

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.FuncDependency{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			dbCfg := database.Config{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUser,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxConnections,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}

			var err error
			sqlxDB, err = sqlx.ConnectContext(ctx, "postgres", dbCfg.DSN())
			if err != nil {
				return err
			}
			sqlxDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
			sqlxDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
			sqlxDB.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

			db = database.NewDatabaseInstance(sqlxDB, logger)
			logger.Infof("Connected to database %s at %s:%s", dbCfg.Name, dbCfg.Host, dbCfg.Port)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})
	boot.AddDependency(&startup.FuncDependency{
		Name:  "migrations",
		Needs: []string{"database"},
		StartFunc: func(ctx context.Context) error {
			driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
			if err != nil {
				return err
			}
			ms := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return ms.Migrate(cfg.DatabaseName, driver)
		},
		StopFunc: func(ctx context.Context) error { return nil },
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
	if cfg.KafkaEnabled {
		boot.AddDependency(&startup.FuncDependency{
			Name: "kafka",
			StartFunc: func(ctx context.Context) error {
				producer = events.NewProducer(events.ParseConfig(cfg.KafkaBrokers, cfg.KafkaFlagEventsTopic), logger)
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				if producer == nil {
					return nil
				}
				return producer.Close()
			},
		})
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	configCache := cache.NewConfigCache(cacheClient, cfg.CacheTTL, logger)
	flagRepo := repositories.NewFlagRepository(db, logger)
	configRepo := repositories.NewFlagConfigRepository(db, logger)
	envRepo := repositories.NewEnvironmentRepository(db, logger)

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
	e.GET("/test-db", func(c echo.Context) error {
		if err := db.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unreachable", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Everything under /api requires the admin credential.
	api := e.Group("/api", middleware.Authentication(logger, cfg.APIKey))
	handlers.NewFlagHandler(flagRepo, configRepo, envRepo, configCache, producer, logger).RegisterRoutes(api)
	handlers.NewSystemHandler(flagRepo, configRepo, envRepo, configCache, logger).RegisterRoutes(api)

	metricsServer := metrics.NewServer(cfg.MetricsPort, serviceName, logger)
	if err := metricsServer.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start metrics server")
		os.Exit(1)
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ControlPlanePort)
		logger.Infof("Control plane listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("control plane stopped")
			os.Exit(1)
		}
	}()

	checker.SetReady(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down control plane...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	checker.SetReady(false)
	_ = e.Shutdown(shutdownCtx)
	_ = metricsServer.Stop(shutdownCtx)
	_ = boot.Stop(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)
}
