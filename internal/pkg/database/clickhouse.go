package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/pkg/logger"
	"github.com/xtrace/xtrace/internal/pkg/metrics"
)

// ClickHouseDB wraps a ClickHouse connection used by the best-effort
// analytical mirror (internal/repository/clickhouse). It is never the
// system of record — Postgres is authoritative; ClickHouse writes are a
// post-commit hook (SPEC_FULL.md §2) and their failures are logged, not
// propagated.
type ClickHouseDB struct {
	Conn driver.Conn
}

// NewClickHouse creates a new ClickHouse connection. Only called when
// config.ClickHouseConfig.Enabled() is true.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:          10 * time.Second,
		MaxOpenConns:         25,
		MaxIdleConns:         5,
		ConnMaxLifetime:      time.Hour,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      10,
		MaxCompressionBuffer: 10 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logger.Info("connected to ClickHouse",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &ClickHouseDB{Conn: conn}, nil
}

// Close closes the connection.
func (db *ClickHouseDB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// PrepareBatch prepares a batch insert.
func (db *ClickHouseDB) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return db.Conn.PrepareBatch(ctx, query)
}

// Exec executes a query with logging and metrics.
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	start := time.Now()
	err := db.Conn.Exec(ctx, query, args...)
	db.logQuery("exec", query, start, err, len(args))
	return err
}

// Select executes a select query and scans results into dest with logging.
func (db *ClickHouseDB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := db.Conn.Select(ctx, dest, query, args...)
	db.logQuery("select", query, start, err, len(args))
	return err
}

func (db *ClickHouseDB) logQuery(operation, query string, start time.Time, err error, argCount int) {
	duration := time.Since(start)

	metrics.RecordDBQuery("clickhouse", operation, duration)

	if err != nil {
		metrics.RecordDBError("clickhouse", operation)
		logger.Error("clickhouse query failed",
			zap.String("operation", operation),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("query", truncateSQL(query, 300)),
			zap.Int("arg_count", argCount),
			zap.Error(err),
		)
		return
	}

	if duration > 100*time.Millisecond {
		logger.Warn("slow clickhouse query",
			zap.String("operation", operation),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("query", truncateSQL(query, 300)),
			zap.Int("arg_count", argCount),
		)
	} else if logger.IsDebug() {
		logger.Debug("clickhouse query executed",
			zap.String("operation", operation),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("query", truncateSQL(query, 200)),
			zap.Int("arg_count", argCount),
		)
	}
}
