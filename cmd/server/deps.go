package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/handler"
	"github.com/xtrace/xtrace/internal/ingest"
	"github.com/xtrace/xtrace/internal/middleware"
	"github.com/xtrace/xtrace/internal/pkg/database"
	"github.com/xtrace/xtrace/internal/pkg/logger"
	"github.com/xtrace/xtrace/internal/pkg/pagination"
	"github.com/xtrace/xtrace/internal/grpcserver"
	chmirror "github.com/xtrace/xtrace/internal/repository/clickhouse"
	"github.com/xtrace/xtrace/internal/repository/postgres"
	"github.com/xtrace/xtrace/internal/storage"
	"github.com/xtrace/xtrace/internal/worker"
)

// Dependencies wires every shared resource and handler for one server
// process, following spec.md §5's "shared resources, one process"
// model: a single Postgres pool, a single ingest queue, and exactly one
// batching worker goroutine regardless of how many HTTP workers Fiber
// runs.
type Dependencies struct {
	cfg *config.Config

	postgres   *database.PostgresDB
	projectsDB *sqlx.DB
	clickhouse *database.ClickHouseDB
	redis      *redis.Client

	queue        *ingest.Queue
	ingestWorker *ingest.Worker

	rollupWarmServer *worker.Server
	grpcOTLP         *grpcserver.Server

	auth *middleware.Auth

	health    *handler.HealthHandler
	ingestion *handler.IngestionHandler
	otel      *handler.OTelHandler
	traces    *handler.TracesHandler
	projects  *handler.ProjectsHandler
}

// buildDependencies constructs every shared resource and handler. The
// caller owns the returned Dependencies' lifetime: run() starts the
// ingest worker goroutine, and shutdown() implements the cooperative
// stop sequence of spec.md §5/§9.
func buildDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	pg, err := database.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	projectsDB, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN())
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("connect projects db: %w", err)
	}

	d := &Dependencies{cfg: cfg, postgres: pg, projectsDB: projectsDB}

	projectRepo := postgres.NewProjectRepository(projectsDB)
	if err := projectRepo.EnsureDefault(ctx, cfg.Auth.DefaultProjectID); err != nil {
		d.Close()
		return nil, fmt.Errorf("ensure default project: %w", err)
	}

	if cfg.ClickHouse.Enabled() {
		ch, err := database.NewClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			logger.Warn("clickhouse mirror disabled: connection failed", zap.Error(err))
		} else {
			d.clickhouse = ch
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("rollup cache disabled: redis ping failed", zap.Error(err))
			redisClient = nil
		}
	}
	d.redis = redisClient
	rollupCache := cache.NewRollupCache(redisClient)

	var offload *storage.Store
	if cfg.MinIO.Enabled() {
		store, err := storage.NewStore(ctx, cfg.MinIO)
		if err != nil {
			logger.Warn("payload offload disabled: minio setup failed", zap.Error(err))
		} else {
			offload = store
		}
	}

	traceRepo := postgres.NewTraceRepository(pg, offload)
	rollupRepo := postgres.NewRollupRepository(pg)
	upsertRepo := postgres.NewUpsertRepository(pg, offload, cfg.Auth.DefaultProjectID, cfg.Auth.DefaultEnvironment)

	d.queue = ingest.NewQueue(cfg.Ingest.QueueCapacity)

	var hooks []ingest.PostCommitHook
	if d.clickhouse != nil {
		mirror := chmirror.NewMirror(d.clickhouse)
		hooks = append(hooks, mirror.Hook)
	}
	if cfg.Redis.Enabled() && redisClient != nil {
		d.rollupWarmServer = worker.NewServer(cfg, rollupRepo, rollupCache)
		client := d.rollupWarmServer.Client()
		hooks = append(hooks, rollupWarmHook(client))
	}

	d.ingestWorker = ingest.NewWorker(d.queue, upsertRepo, ingest.WorkerConfig{
		MaxBatchSize: cfg.Ingest.MaxBatchSize,
		Window:       windowFromMillis(cfg.Ingest.WindowMillis),
	}, hooks...)

	d.auth = middleware.NewAuth(cfg.Auth.BearerToken, cfg.Auth.DefaultProjectID, cfg.Auth.PublicKey, cfg.Auth.SecretKey, projectRepo)

	var cursors *pagination.Codec
	if cfg.JWT.CursorSigningKey != "" {
		cursors = pagination.NewCodec(cfg.JWT.CursorSigningKey)
	}

	if cfg.GRPC.Addr != "" {
		svc := grpcserver.NewTraceService(d.queue, d.auth, cfg.Auth.DefaultEnvironment)
		d.grpcOTLP = grpcserver.NewServer(cfg.GRPC.Addr, svc)
	}

	d.health = handler.NewHealthHandler(pg.Pool, clickhouseConn(d.clickhouse), redisClient, appVersion)
	d.ingestion = handler.NewIngestionHandler(d.queue)
	d.otel = handler.NewOTelHandler(d.queue, cfg.Auth.DefaultEnvironment)
	d.traces = handler.NewTracesHandler(traceRepo, rollupRepo, rollupCache, cursors)
	d.projects = handler.NewProjectsHandler(projectRepo)

	return d, nil
}

// rollupWarmHook enqueues a best-effort cache-warm job for every
// project touched by a committed window (SPEC_FULL.md §2/§3). Enqueue
// failures are logged, never propagated — the query path's own
// Postgres fallback makes this purely an optimization.
func rollupWarmHook(client *asynq.Client) ingest.PostCommitHook {
	return func(ctx context.Context, batch []domain.BatchIngest) {
		seen := make(map[string]bool)
		for _, item := range batch {
			projectID := ""
			if item.Trace != nil {
				projectID = item.Trace.ProjectID
			} else if len(item.Observations) > 0 {
				projectID = item.Observations[0].ProjectID
			}
			if projectID == "" || seen[projectID] {
				continue
			}
			seen[projectID] = true
			if err := worker.EnqueueRollupWarm(client, projectID); err != nil {
				logger.Warn("rollup warm enqueue failed", zap.String("project_id", projectID), zap.Error(err))
			}
		}
	}
}

func clickhouseConn(db *database.ClickHouseDB) driver.Conn {
	if db == nil {
		return nil
	}
	return db.Conn
}

func windowFromMillis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// run starts the background ingest worker and, if configured, the
// asynq rollup-warm server. Both run until shutdown stops them.
func (d *Dependencies) run(ctx context.Context) {
	go d.ingestWorker.Run(ctx)
	if d.rollupWarmServer != nil {
		go func() {
			if err := d.rollupWarmServer.Run(); err != nil {
				logger.Error("rollup warm server stopped", zap.Error(err))
			}
		}()
	}
	if d.grpcOTLP != nil {
		go func() {
			if err := d.grpcOTLP.Run(); err != nil {
				logger.Error("grpc OTLP receiver stopped", zap.Error(err))
			}
		}()
	}
}

// shutdown implements spec.md §5/§9's cooperative stop sequence: close
// the queue's producer side first, then wait for the worker to drain
// and exit, then release every connection.
func (d *Dependencies) shutdown(ctx context.Context) {
	if d.grpcOTLP != nil {
		d.grpcOTLP.Stop()
	}

	d.queue.Close()

	select {
	case <-d.ingestWorker.Done():
	case <-ctx.Done():
		logger.Warn("ingest worker did not drain before shutdown deadline")
	}

	if d.rollupWarmServer != nil {
		d.rollupWarmServer.Stop()
	}

	d.Close()
}

// Close releases every connection without waiting for in-flight work.
// Called directly on startup failure, and from shutdown after the
// worker has already drained.
func (d *Dependencies) Close() {
	if d.postgres != nil {
		d.postgres.Close()
	}
	if d.projectsDB != nil {
		_ = d.projectsDB.Close()
	}
	if d.clickhouse != nil {
		_ = d.clickhouse.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}
