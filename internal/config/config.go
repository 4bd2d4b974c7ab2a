package config

import "strconv"

// Config holds all configuration for the application, read once at
// startup and treated as immutable thereafter (spec.md §5, "Shared
// resources").
type Config struct {
	Server     ServerConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	MinIO      MinIOConfig
	JWT        JWTConfig
	Sentry     SentryConfig
	Asynq      AsynqConfig
	Log        LogConfig
	Ingest     IngestConfig
	Auth       AuthConfig
	GRPC       GRPCConfig
}

// ServerConfig holds HTTP server configuration. BindAddr mirrors
// spec.md §6's BIND_ADDR env var.
type ServerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
	Env      string `mapstructure:"env"`
}

// PostgresConfig holds PostgreSQL configuration. spec.md §6 specifies a
// single required DATABASE_URL; Host/Port/... are kept for the optional
// YAML-file local-dev path and assembled into the same DSN shape.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN returns the PostgreSQL connection string. If URL is set (the
// required DATABASE_URL, spec.md §6) it is used verbatim; otherwise one
// is assembled from the discrete fields for local-dev YAML configs.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" +
		strconv.Itoa(c.Port) + "/" + c.Database + "?sslmode=" + c.SSLMode
}

// ClickHouseConfig configures the best-effort analytical mirror
// (SPEC_FULL.md §2). Empty Host disables mirroring entirely.
type ClickHouseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Enabled reports whether the ClickHouse mirror should be attempted.
func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

// RedisConfig configures the daily-rollup read-through cache and the
// asynq warm-job broker (SPEC_FULL.md §2). Empty Host disables the
// cache; the query falls back straight to Postgres.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address in host:port form.
func (c RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Enabled reports whether the Redis-backed cache/broker should be used.
func (c RedisConfig) Enabled() bool { return c.Host != "" }

// MinIOConfig configures the large-payload offload store (SPEC_FULL.md
// §2). Empty Endpoint disables offload — payloads are always stored
// inline in Postgres.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	ThresholdBytes  int    `mapstructure:"threshold_bytes"`
}

// Enabled reports whether payload offload should be attempted.
func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" }

// JWTConfig configures the opaque pagination-cursor signing key
// (SPEC_FULL.md §2). A missing secret disables cursor issuance; `page`/
// `limit` remain fully functional without it.
type JWTConfig struct {
	CursorSigningKey string `mapstructure:"cursor_signing_key"`
}

// SentryConfig configures panic/error reporting. An empty DSN disables
// Sentry entirely, matching the teacher's main.go bootstrap.
type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// AsynqConfig configures the rollup-cache warm job queue
// (SPEC_FULL.md §2, §3); it reuses RedisConfig as its broker.
type AsynqConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IngestConfig holds the batching-worker tunables of spec.md §4.4.
type IngestConfig struct {
	QueueCapacity  int `mapstructure:"queue_capacity"`   // Q, default 1000
	MaxBatchSize   int `mapstructure:"max_batch_size"`   // M, default 200
	WindowMillis   int `mapstructure:"window_millis"`    // W, default 50
	PayloadThreshold int `mapstructure:"payload_threshold_bytes"`
}

// AuthConfig holds the spec.md §6 auth-boundary configuration.
type AuthConfig struct {
	BearerToken     string `mapstructure:"bearer_token"`
	PublicKey       string `mapstructure:"public_key"`
	SecretKey       string `mapstructure:"secret_key"`
	DefaultProjectID string `mapstructure:"default_project_id"`
	DefaultEnvironment string `mapstructure:"default_environment"`
}

// GRPCConfig configures the optional OTLP gRPC receiver
// (SPEC_FULL.md §2). An empty Addr disables it.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c Config) IsProduction() bool {
	return c.Server.Env == "production"
}
