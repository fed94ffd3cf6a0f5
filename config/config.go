package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"clover"`
	Environment        string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Service ports
	ControlPlanePort      int `env:"CONTROL_PLANE_PORT" env-default:"3001"`
	EvaluationServicePort int `env:"EVALUATION_SERVICE_PORT" env-default:"3002"`
	MetricsPort           int `env:"METRICS_PORT" env-default:"9090"`

	// HTTP server settings
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	CORSEnabled                   bool     `env:"CORS_ENABLED" env-default:"true"`
	RequestLogging                bool     `env:"REQUEST_LOGGING" env-default:"true"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,PATCH,DELETE"`

	// Admin API credential, compared constant-time at control-plane ingress
	APIKey string `env:"API_KEY" env-default:""`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database user
	DatabaseUser string `env:"DB_USER" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASS" env-default:""`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL" env-default:"disable"`
	// Max open connections in the pool
	DatabaseMaxConnections int `env:"DB_MAX_CONNECTIONS" env-default:"20"`
	// Max idle connections in the pool
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn max lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	// Migration folder path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Migration version (0 = latest)
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Migration force version
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Migration auto rollback on dirty state
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix applied to every cache key
	RedisPrefix string `env:"REDIS_PREFIX" env-default:""`
	// Config snapshot TTL; safety net, not the freshness mechanism
	CacheTTL time.Duration `env:"CACHE_TTL" env-default:"300s"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for flag change events
	KafkaFlagEventsTopic string `env:"KAFKA_FLAG_EVENTS_TOPIC" env-default:"flag-events"`
	// Enable/disable event publishing
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`

	// Evaluation settings
	// Upper bound on evaluation service time
	EvaluationTimeout time.Duration `env:"EVALUATION_TIMEOUT" env-default:"5s"`
	// Poll interval advertised to SDKs
	SDKPollInterval time.Duration `env:"SDK_POLL_INTERVAL" env-default:"30s"`
	// Sample rate for recording evaluations to the store, in [0,1]
	EvaluationSampleRate float64 `env:"EVALUATION_SAMPLE_RATE" env-default:"0.1"`

	// Tracing settings
	// Enable OTLP tracing export
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
