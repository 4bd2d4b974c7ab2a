package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/pkg/database"
	"github.com/xtrace/xtrace/internal/pkg/logger"
	"github.com/xtrace/xtrace/internal/repository/postgres"
	"github.com/xtrace/xtrace/internal/worker"
)

// main runs the rollup-warm job consumer as a standalone process,
// separate from the HTTP server (SPEC_FULL.md §2). It consumes exactly
// the task type internal/worker.TypeRollupWarm; every other concern —
// ingestion, queries — lives in cmd/server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !cfg.Redis.Enabled() {
		logger.Log.Fatal("rollup warm worker requires Redis to be configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pg, err := database.NewPostgres(ctx, cfg.Postgres)
	cancel()
	if err != nil {
		logger.Log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	rollupRepo := postgres.NewRollupRepository(pg)
	rollupCache := cache.NewRollupCache(redisClient)

	server := worker.NewServer(cfg, rollupRepo, rollupCache)

	logger.Info("starting rollup warm worker")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down rollup warm worker")
		server.Stop()
	case err := <-errCh:
		if err != nil {
			logger.Error("rollup warm worker stopped with error", zap.Error(err))
		}
	}

	logger.Info("rollup warm worker stopped")
}
