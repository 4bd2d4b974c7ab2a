package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from environment variables, with an optional
// YAML file for local-dev ergonomics (config.yaml in ".", "./config", or
// "/etc/xtrace"). spec.md §6 fixes the exact env var names for the
// required fields and the auth key pair; those are bound explicitly
// rather than derived through a generic prefix/replacer scheme so the
// wire-level names in spec.md are the literal names read here.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/xtrace")
	_ = v.ReadInConfig()

	bindEnv(v,
		"database_url", "DATABASE_URL",
		"api_bearer_token", "API_BEARER_TOKEN",
		"bind_addr", "BIND_ADDR",
		"default_project_id", "DEFAULT_PROJECT_ID",
		"xtrace_public_key", "XTRACE_PUBLIC_KEY",
		"langfuse_public_key", "LANGFUSE_PUBLIC_KEY",
		"xtrace_secret_key", "XTRACE_SECRET_KEY",
		"langfuse_secret_key", "LANGFUSE_SECRET_KEY",
	)

	var cfg Config

	cfg.Server.BindAddr = v.GetString("bind_addr")
	cfg.Server.Env = v.GetString("server_env")

	cfg.Postgres.URL = v.GetString("database_url")
	cfg.Postgres.Host = v.GetString("postgres_host")
	cfg.Postgres.Port = v.GetInt("postgres_port")
	cfg.Postgres.User = v.GetString("postgres_user")
	cfg.Postgres.Password = v.GetString("postgres_password")
	cfg.Postgres.Database = v.GetString("postgres_db")
	cfg.Postgres.SSLMode = v.GetString("postgres_ssl_mode")
	cfg.Postgres.MaxConns = int32(v.GetInt("postgres_max_conns"))
	cfg.Postgres.MinConns = int32(v.GetInt("postgres_min_conns"))

	cfg.ClickHouse.Host = v.GetString("clickhouse_host")
	cfg.ClickHouse.Port = v.GetInt("clickhouse_port")
	cfg.ClickHouse.User = v.GetString("clickhouse_user")
	cfg.ClickHouse.Password = v.GetString("clickhouse_password")
	cfg.ClickHouse.Database = v.GetString("clickhouse_db")

	cfg.Redis.Host = v.GetString("redis_host")
	cfg.Redis.Port = v.GetInt("redis_port")
	cfg.Redis.Password = v.GetString("redis_password")
	cfg.Redis.DB = v.GetInt("redis_db")

	cfg.MinIO.Endpoint = v.GetString("minio_endpoint")
	cfg.MinIO.AccessKeyID = v.GetString("minio_access_key_id")
	cfg.MinIO.SecretAccessKey = v.GetString("minio_secret_access_key")
	cfg.MinIO.UseSSL = v.GetBool("minio_use_ssl")
	cfg.MinIO.Bucket = v.GetString("minio_bucket")
	cfg.MinIO.ThresholdBytes = v.GetInt("minio_threshold_bytes")

	cfg.JWT.CursorSigningKey = v.GetString("cursor_signing_key")

	cfg.Sentry.DSN = v.GetString("sentry_dsn")
	cfg.Sentry.Environment = v.GetString("server_env")
	cfg.Sentry.SampleRate = v.GetFloat64("sentry_sample_rate")

	cfg.Asynq.Concurrency = v.GetInt("asynq_concurrency")
	cfg.Asynq.Queue = v.GetString("asynq_queue")

	cfg.Log.Level = v.GetString("log_level")
	cfg.Log.Format = v.GetString("log_format")

	cfg.Ingest.QueueCapacity = v.GetInt("ingest_queue_capacity")
	cfg.Ingest.MaxBatchSize = v.GetInt("ingest_max_batch_size")
	cfg.Ingest.WindowMillis = v.GetInt("ingest_window_millis")
	cfg.Ingest.PayloadThreshold = v.GetInt("minio_threshold_bytes")

	cfg.Auth.BearerToken = v.GetString("api_bearer_token")
	cfg.Auth.PublicKey = firstNonEmpty(v.GetString("xtrace_public_key"), v.GetString("langfuse_public_key"))
	cfg.Auth.SecretKey = firstNonEmpty(v.GetString("xtrace_secret_key"), v.GetString("langfuse_secret_key"))
	cfg.Auth.DefaultProjectID = v.GetString("default_project_id")
	cfg.Auth.DefaultEnvironment = v.GetString("default_environment")

	cfg.GRPC.Addr = v.GetString("otlp_grpc_addr")

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper, pairs ...string) {
	for i := 0; i < len(pairs); i += 2 {
		_ = v.BindEnv(pairs[i], pairs[i+1])
	}
}

func firstNonEmpty(vals ...string) string {
	for _, s := range vals {
		if s != "" {
			return s
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind_addr", "127.0.0.1:8742")
	v.SetDefault("server_env", "development")
	v.SetDefault("default_project_id", "default")
	v.SetDefault("default_environment", "default")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "xtrace")
	v.SetDefault("postgres_password", "xtrace")
	v.SetDefault("postgres_db", "xtrace")
	v.SetDefault("postgres_ssl_mode", "disable")
	v.SetDefault("postgres_max_conns", 20)
	v.SetDefault("postgres_min_conns", 2)

	v.SetDefault("clickhouse_host", "")
	v.SetDefault("clickhouse_port", 9000)
	v.SetDefault("clickhouse_user", "xtrace")
	v.SetDefault("clickhouse_password", "xtrace")
	v.SetDefault("clickhouse_db", "xtrace")

	v.SetDefault("redis_host", "")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key_id", "")
	v.SetDefault("minio_secret_access_key", "")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_bucket", "xtrace-payloads")
	v.SetDefault("minio_threshold_bytes", 32*1024)

	v.SetDefault("cursor_signing_key", "")

	v.SetDefault("sentry_dsn", "")
	v.SetDefault("sentry_sample_rate", 0.2)

	v.SetDefault("asynq_concurrency", 5)
	v.SetDefault("asynq_queue", "xtrace_rollup_warm")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("ingest_queue_capacity", 1000)
	v.SetDefault("ingest_max_batch_size", 200)
	v.SetDefault("ingest_window_millis", 50)

	v.SetDefault("otlp_grpc_addr", "")
}

func validate(cfg *Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.BearerToken == "" {
		return fmt.Errorf("API_BEARER_TOKEN is required")
	}
	return nil
}
