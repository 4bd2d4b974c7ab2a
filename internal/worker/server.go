// Package worker runs the rollup-cache warm job: an asynq consumer that
// pre-computes a project's current daily-rollup page and populates the
// read-through cache, so the query path in the common case hits Redis
// instead of the Postgres CTE (SPEC_FULL.md §2). It is entirely
// best-effort — a failure here never affects ingestion or query
// correctness, since the daily-rollup query always falls back to
// Postgres on a cache miss.
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/config"
	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/logger"
)

// defaultRollupLimit matches the trace-list/rollup default page size
// of spec.md §4.6/§4.7.
const defaultRollupLimit = 50

// RollupRepository is the read side this worker warms the cache from.
// Declared here, rather than importing the concrete
// internal/repository/postgres type, so the worker stays testable with
// a fake.
type RollupRepository interface {
	DailyMetrics(ctx context.Context, filter domain.TraceFilter, page, limit int) ([]domain.DailyMetrics, int, error)
}

// Server wraps the asynq server, scheduler, and client for the rollup
// warm job.
type Server struct {
	cfg       *config.Config
	server    *asynq.Server
	mux       *asynq.ServeMux
	client    *asynq.Client
	rollups   RollupRepository
	rollupTTL *cache.RollupCache
}

// NewServer builds the worker server. rollups and rollupCache back the
// single registered handler; rollupCache may be nil, in which case the
// handler still runs the query but the result is discarded (matching
// RollupCache's own nil-client no-op behavior).
func NewServer(cfg *config.Config, rollups RollupRepository, rollupCache *cache.RollupCache) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	concurrency := cfg.Asynq.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"low": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("rollup warm task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
			Logger: &asynqLogger{logger: logger.Log},
		},
	)

	s := &Server{
		cfg:       cfg,
		server:    server,
		client:    asynq.NewClient(redisOpt),
		rollups:   rollups,
		rollupTTL: rollupCache,
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRollupWarm, s.handleRollupWarm)
	s.mux = mux

	return s
}

// Run starts the asynq server. Blocks until Stop is called.
func (s *Server) Run() error {
	return s.server.Run(s.mux)
}

// Stop shuts down the server and client.
func (s *Server) Stop() {
	s.server.Shutdown()
	s.client.Close()
}

// Client returns the asynq client used to enqueue rollup-warm tasks.
func (s *Server) Client() *asynq.Client {
	return s.client
}

func (s *Server) handleRollupWarm(ctx context.Context, t *asynq.Task) error {
	var payload RollupWarmPayload
	if err := unmarshalTask(t, &payload); err != nil {
		return fmt.Errorf("unmarshal rollup warm payload: %w", err)
	}

	filter := domain.TraceFilter{ProjectID: payload.ProjectID}
	data, total, err := s.rollups.DailyMetrics(ctx, filter, 1, defaultRollupLimit)
	if err != nil {
		return fmt.Errorf("compute rollup for warm cache: %w", err)
	}

	if s.rollupTTL != nil {
		key := cache.Key(payload.ProjectID, filter, 1, defaultRollupLimit)
		s.rollupTTL.Set(ctx, key, data, total)
	}
	return nil
}

// asynqLogger adapts zap.Logger to asynq.Logger.
type asynqLogger struct {
	logger *zap.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Sugar().Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Sugar().Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Sugar().Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Sugar().Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Sugar().Fatal(args...) }
