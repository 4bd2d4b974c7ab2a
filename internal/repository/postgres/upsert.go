package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/database"
	"github.com/xtrace/xtrace/internal/storage"
)

// UpsertRepository implements ingest.Writer (spec.md §4.5): it owns the
// one-transaction-per-window write path for both traces and
// observations. Grounded on internal/pkg/database/postgres.go's
// Transaction helper and this package's existing parameterized-query
// style.
type UpsertRepository struct {
	db                 *database.PostgresDB
	offload            *storage.Store
	defaultProjectID   string
	defaultEnvironment string
}

// NewUpsertRepository builds an UpsertRepository. defaultProjectID and
// defaultEnvironment backstop traces/observations whose payload omits
// those fields (spec.md §3). offload may be nil, in which case
// observation input/output are always stored inline.
func NewUpsertRepository(db *database.PostgresDB, offload *storage.Store, defaultProjectID, defaultEnvironment string) *UpsertRepository {
	return &UpsertRepository{db: db, offload: offload, defaultProjectID: defaultProjectID, defaultEnvironment: defaultEnvironment}
}

// WriteBatch writes every BatchIngest in arrival order inside a single
// transaction (spec.md §4.4 step 4, §4.5). The batching worker calls
// this once per window.
func (r *UpsertRepository) WriteBatch(ctx context.Context, batch []domain.BatchIngest) error {
	return database.Transaction(ctx, r.db, func(tx pgx.Tx) error {
		for _, item := range batch {
			if item.Trace != nil {
				if err := r.upsertTrace(ctx, tx, item.Trace); err != nil {
					return err
				}
			}
			for i := range item.Observations {
				obs := &item.Observations[i]
				if err := r.ensureTraceStub(ctx, tx, obs); err != nil {
					return err
				}
				if err := r.upsertObservation(ctx, tx, obs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *UpsertRepository) upsertTrace(ctx context.Context, tx pgx.Tx, t *domain.Trace) error {
	projectID := t.ProjectID
	if projectID == "" {
		projectID = r.defaultProjectID
	}
	environment := t.Environment
	if environment == "" {
		environment = domain.DefaultEnvironment
	}
	timestamp := t.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}

	const query = `
		INSERT INTO traces (
			id, project_id, environment, timestamp, name, input, output,
			session_id, release, version, user_id, metadata, tags, public,
			external_id, bookmarked, latency, total_cost, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			environment = EXCLUDED.environment,
			timestamp = EXCLUDED.timestamp,
			name = EXCLUDED.name,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			session_id = EXCLUDED.session_id,
			release = EXCLUDED.release,
			version = EXCLUDED.version,
			user_id = EXCLUDED.user_id,
			metadata = EXCLUDED.metadata,
			tags = EXCLUDED.tags,
			public = EXCLUDED.public,
			external_id = EXCLUDED.external_id,
			bookmarked = EXCLUDED.bookmarked,
			latency = EXCLUDED.latency,
			total_cost = EXCLUDED.total_cost,
			updated_at = NOW()
	`
	_, err := tx.Exec(ctx, query,
		t.ID, projectID, environment, timestamp, t.Name, nullableJSON(t.Input), nullableJSON(t.Output),
		t.SessionID, t.Release, t.Version, t.UserID, nullableJSON(t.Metadata), tags, t.Public,
		t.ExternalID, t.Bookmarked, t.Latency, t.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", t.ID, err)
	}
	return nil
}

// ensureTraceStub materializes a minimal trace row if one does not
// already exist, so an observation can always satisfy its foreign
// reference regardless of arrival order (spec.md §4.5 step 1).
func (r *UpsertRepository) ensureTraceStub(ctx context.Context, tx pgx.Tx, obs *domain.Observation) error {
	projectID := obs.ProjectID
	if projectID == "" {
		projectID = r.defaultProjectID
	}
	environment := obs.Environment
	if environment == "" {
		environment = domain.DefaultEnvironment
	}

	const query = `
		INSERT INTO traces (id, project_id, environment, timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, obs.TraceID, projectID, environment); err != nil {
		return fmt.Errorf("ensure trace stub %s: %w", obs.TraceID, err)
	}
	return nil
}

func (r *UpsertRepository) upsertObservation(ctx context.Context, tx pgx.Tx, obs *domain.Observation) error {
	obsType := obs.Type
	if obsType == "" {
		obsType = domain.DefaultObservationType
	}
	level := obs.Level
	if level == "" {
		level = domain.DefaultLevel
	}
	environment := obs.Environment
	if environment == "" {
		environment = domain.DefaultEnvironment
	}
	projectID := obs.ProjectID
	if projectID == "" {
		projectID = r.defaultProjectID
	}

	input := r.offload.Offload(ctx, obs.ID, "input", obs.Input)
	output := r.offload.Offload(ctx, obs.ID, "output", obs.Output)

	const query = `
		INSERT INTO observations (
			id, trace_id, type, name, start_time, end_time, completion_start_time,
			model, model_parameters, input, output, usage,
			input_price, output_price, total_price,
			calculated_input_cost, calculated_output_cost, calculated_total_cost,
			prompt_tokens, completion_tokens, total_tokens,
			latency, time_to_first_token, level, status_message, parent_observation_id,
			prompt_name, prompt_version, metadata, environment, project_id, unit,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
			$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			trace_id = EXCLUDED.trace_id,
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			completion_start_time = EXCLUDED.completion_start_time,
			model = EXCLUDED.model,
			model_parameters = EXCLUDED.model_parameters,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			usage = EXCLUDED.usage,
			input_price = EXCLUDED.input_price,
			output_price = EXCLUDED.output_price,
			total_price = EXCLUDED.total_price,
			calculated_input_cost = EXCLUDED.calculated_input_cost,
			calculated_output_cost = EXCLUDED.calculated_output_cost,
			calculated_total_cost = EXCLUDED.calculated_total_cost,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			total_tokens = EXCLUDED.total_tokens,
			latency = EXCLUDED.latency,
			time_to_first_token = EXCLUDED.time_to_first_token,
			level = EXCLUDED.level,
			status_message = EXCLUDED.status_message,
			parent_observation_id = EXCLUDED.parent_observation_id,
			prompt_name = EXCLUDED.prompt_name,
			prompt_version = EXCLUDED.prompt_version,
			metadata = EXCLUDED.metadata,
			environment = EXCLUDED.environment,
			project_id = EXCLUDED.project_id,
			unit = EXCLUDED.unit,
			updated_at = NOW()
	`
	_, err := tx.Exec(ctx, query,
		obs.ID, obs.TraceID, obsType, obs.Name, obs.StartTime, obs.EndTime, obs.CompletionStartTime,
		obs.Model, nullableJSON(obs.ModelParameters), nullableJSON(input), nullableJSON(output), nullableJSON(obs.Usage),
		obs.InputPrice, obs.OutputPrice, obs.TotalPrice,
		obs.CalculatedInputCost, obs.CalculatedOutputCost, obs.CalculatedTotalCost,
		obs.PromptTokens, obs.CompletionTokens, obs.TotalTokens,
		obs.Latency, obs.TimeToFirstToken, level, obs.StatusMessage, obs.ParentObservationID,
		obs.PromptName, obs.PromptVersion, nullableJSON(obs.Metadata), environment, projectID, obs.Unit,
	)
	if err != nil {
		return fmt.Errorf("upsert observation %s: %w", obs.ID, err)
	}
	return nil
}

// nullableJSON passes a JSON column through as NULL rather than the
// literal four bytes "null" when the payload omitted it.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
