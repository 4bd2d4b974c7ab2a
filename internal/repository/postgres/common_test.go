package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/jmoiron/sqlx"

	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/pkg/database"
)

// getTestDB returns a pgx-backed database connection for integration
// tests. Returns nil (and skips) if POSTGRES_TEST_HOST is not set.
func getTestDB(t *testing.T) *database.PostgresDB {
	if os.Getenv("POSTGRES_TEST_HOST") == "" {
		t.Skip("Skipping integration test: POSTGRES_TEST_HOST not set")
		return nil
	}

	cfg := config.PostgresConfig{
		Host:     os.Getenv("POSTGRES_TEST_HOST"),
		Port:     5432,
		User:     os.Getenv("POSTGRES_TEST_USER"),
		Password: os.Getenv("POSTGRES_TEST_PASS"),
		Database: os.Getenv("POSTGRES_TEST_DB"),
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}
	if cfg.Database == "" {
		cfg.Database = "test_xtrace"
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}

	db, err := database.NewPostgres(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to PostgreSQL: %v", err)
		return nil
	}
	return db
}

// getTestSqlxDB returns the sqlx/lib-pq connection ProjectRepository
// uses, pointed at the same test database as getTestDB.
func getTestSqlxDB(t *testing.T) *sqlx.DB {
	if os.Getenv("POSTGRES_TEST_HOST") == "" {
		t.Skip("Skipping integration test: POSTGRES_TEST_HOST not set")
		return nil
	}

	cfg := config.PostgresConfig{
		Host:     os.Getenv("POSTGRES_TEST_HOST"),
		Port:     5432,
		User:     os.Getenv("POSTGRES_TEST_USER"),
		Password: os.Getenv("POSTGRES_TEST_PASS"),
		Database: os.Getenv("POSTGRES_TEST_DB"),
		SSLMode:  "disable",
	}
	if cfg.Database == "" {
		cfg.Database = "test_xtrace"
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}

	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		t.Skipf("Skipping integration test: failed to open sqlx connection: %v", err)
		return nil
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: failed to ping sqlx connection: %v", err)
		return nil
	}
	return db
}

// cleanupProjects removes test projects from the database.
func cleanupProjects(t *testing.T, db *database.PostgresDB, ids ...string) {
	ctx := context.Background()
	for _, id := range ids {
		_, _ = db.Pool.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
	}
}

// cleanupTraces removes test traces (and their observations via FK) from
// the database.
func cleanupTraces(t *testing.T, db *database.PostgresDB, projectID string) {
	ctx := context.Background()
	_, _ = db.Pool.Exec(ctx, "DELETE FROM observations WHERE project_id = $1", projectID)
	_, _ = db.Pool.Exec(ctx, "DELETE FROM traces WHERE project_id = $1", projectID)
}
