// Package clickhouse is the best-effort analytical mirror described in
// SPEC_FULL.md §2: Postgres is the system of record for every read path
// in this repo; ClickHouse only ever receives a copy, written from the
// ingest worker's PostCommitHook after a window has already committed
// to Postgres. A mirror write failure is logged and otherwise ignored —
// it must never fail or retry the ingestion path.
package clickhouse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/circuitbreaker"
	"github.com/xtrace/xtrace/internal/pkg/database"
	"github.com/xtrace/xtrace/internal/pkg/logger"
)

// insertTimeout bounds a single batch insert. The mirror hook runs
// synchronously in the ingest worker's consumer goroutine (spec.md §5),
// so a call that never bounds its own duration can stall ingestion
// behind a hung ClickHouse connection as surely as one that errors.
const insertTimeout = 10 * time.Second

// Mirror batch-inserts observations into ClickHouse's append-only
// observations_facts table after each ingest window commit. It has no
// read methods: the daily-rollup query's Postgres CTE (spec.md §4.7)
// remains the system of record, and nothing in this repo queries
// ClickHouse back.
type Mirror struct {
	db      *database.ClickHouseDB
	breaker *circuitbreaker.CircuitBreaker
}

// NewMirror creates a mirror writer. Only constructed when
// config.ClickHouseConfig.Enabled() is true. The breaker mirrors
// internal/storage.Store's MinIO wiring: both are best-effort side
// paths off the ingest worker and both trip the same way on a
// struggling dependency.
func NewMirror(db *database.ClickHouseDB) *Mirror {
	return &Mirror{
		db: db,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:    "clickhouse-mirror",
			Timeout: 30 * time.Second,
		}),
	}
}

// Hook implements ingest.PostCommitHook: batch-inserts every
// observation in the window. Errors are logged, never returned —
// callers of PostCommitHook have no way to propagate one anyway.
func (m *Mirror) Hook(ctx context.Context, batch []domain.BatchIngest) {
	var observations []domain.Observation
	for _, item := range batch {
		observations = append(observations, item.Observations...)
	}
	if len(observations) == 0 {
		return
	}

	if err := m.insertObservations(ctx, observations); err != nil {
		logger.Error("clickhouse mirror: observation batch failed",
			zap.Int("count", len(observations)),
			zap.Error(err),
		)
	}
}

func (m *Mirror) insertObservations(ctx context.Context, observations []domain.Observation) error {
	return m.breaker.Execute(ctx, func() error {
		insertCtx, cancel := context.WithTimeout(ctx, insertTimeout)
		defer cancel()

		batch, err := m.db.PrepareBatch(insertCtx, `
			INSERT INTO observations_facts (
				id, trace_id, type, name, start_time, end_time, model,
				calculated_total_cost, prompt_tokens, completion_tokens, total_tokens,
				level, parent_observation_id, environment, project_id, created_at, updated_at
			)
		`)
		if err != nil {
			return err
		}

		for _, o := range observations {
			if err := batch.Append(
				o.ID, o.TraceID, o.Type, o.Name, derefTime(o.StartTime), derefTime(o.EndTime), o.Model,
				derefFloat(o.CalculatedTotalCost), derefInt64(o.PromptTokens), derefInt64(o.CompletionTokens), derefInt64(o.TotalTokens),
				o.Level, derefUUID(o.ParentObservationID), o.Environment, o.ProjectID, o.CreatedAt, o.UpdatedAt,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return *v
}

func derefUUID(v *uuid.UUID) uuid.UUID {
	if v == nil {
		return uuid.Nil
	}
	return *v
}
