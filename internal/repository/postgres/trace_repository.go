package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/database"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/storage"
)

// TraceRepository backs the trace-list (spec.md §4.6) and trace-detail
// (spec.md §4.8) queries.
type TraceRepository struct {
	db      *database.PostgresDB
	offload *storage.Store
}

// NewTraceRepository creates a new trace repository. offload may be
// nil, in which case observation input/output are returned verbatim —
// there is never a {"$ref": ...} pointer to resolve without it.
func NewTraceRepository(db *database.PostgresDB, offload *storage.Store) *TraceRepository {
	return &TraceRepository{db: db, offload: offload}
}

// whereClause builds a parameterized WHERE clause for the filter DSL
// shared by the trace-list and daily-rollup queries (spec.md §4.6/§4.7).
// Only whitelisted, validated column names ever reach this function, so
// the returned SQL is safe to interpolate directly.
func whereClause(filter domain.TraceFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	add("project_id = $%d", filter.ProjectID)
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Name != nil {
		add("name = $%d", *filter.Name)
	}
	if filter.SessionID != nil {
		add("session_id = $%d", *filter.SessionID)
	}
	if filter.FromTime != nil {
		add("timestamp >= $%d", *filter.FromTime)
	}
	if filter.ToTime != nil {
		add("timestamp <= $%d", *filter.ToTime)
	}
	if len(filter.Tags) > 0 {
		add("tags @> $%d", filter.Tags)
	}
	if filter.Version != nil {
		add("version = $%d", *filter.Version)
	}
	if filter.Release != nil {
		add("release = $%d", *filter.Release)
	}
	if len(filter.Environment) > 0 {
		add("environment = ANY($%d)", filter.Environment)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// List runs the trace-list query of spec.md §4.6: filter, whitelisted
// order, page/limit, and the `fields` mask applied during row shaping.
func (r *TraceRepository) List(ctx context.Context, filter domain.TraceFilter, order domain.OrderBy, mask domain.FieldMask, page, limit int) ([]domain.TraceListRow, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	where, args := whereClause(filter)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM traces %s", where)
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count traces: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	column, direction := "timestamp", "desc"
	if order.Column != "" {
		column, direction = order.Column, order.Direction
	}

	offset := (page - 1) * limit
	listQuery := fmt.Sprintf(`
		SELECT id, project_id, environment, timestamp, name, session_id, user_id,
		       release, version, tags, public, external_id, bookmarked, latency,
		       total_cost, metadata, input, output
		FROM traces
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, column, strings.ToUpper(direction), len(args)+1, len(args)+2)

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := r.db.Pool.Query(ctx, listQuery, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var traces []domain.Trace
	for rows.Next() {
		var t domain.Trace
		if err := rows.Scan(
			&t.ID, &t.ProjectID, &t.Environment, &t.Timestamp, &t.Name, &t.SessionID, &t.UserID,
			&t.Release, &t.Version, &t.Tags, &t.Public, &t.ExternalID, &t.Bookmarked, &t.Latency,
			&t.TotalCost, &t.Metadata, &t.Input, &t.Output,
		); err != nil {
			return nil, 0, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list traces: %w", err)
	}

	var observationIDs map[uuid.UUID][]string
	if mask.Observations {
		ids := make([]uuid.UUID, len(traces))
		for i, t := range traces {
			ids[i] = t.ID
		}
		var err error
		observationIDs, err = r.observationIDsByTrace(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
	}

	out := make([]domain.TraceListRow, 0, len(traces))
	for _, t := range traces {
		out = append(out, toListRow(t, mask, observationIDs[t.ID]))
	}
	return out, total, nil
}

func (r *TraceRepository) observationIDsByTrace(ctx context.Context, traceIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT id, trace_id
		FROM observations
		WHERE trace_id = ANY($1)
		ORDER BY trace_id, start_time ASC NULLS LAST, created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, traceIDs)
	if err != nil {
		return nil, fmt.Errorf("list observation ids: %w", err)
	}
	defer rows.Close()

	out := map[uuid.UUID][]string{}
	for rows.Next() {
		var id, traceID uuid.UUID
		if err := rows.Scan(&id, &traceID); err != nil {
			return nil, fmt.Errorf("scan observation id: %w", err)
		}
		out[traceID] = append(out[traceID], id.String())
	}
	return out, rows.Err()
}

func toListRow(t domain.Trace, mask domain.FieldMask, observationIDs []string) domain.TraceListRow {
	row := domain.TraceListRow{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Environment: t.Environment,
		Timestamp:   t.Timestamp,
		Name:        t.Name,
		SessionID:   t.SessionID,
		UserID:      t.UserID,
		Release:     t.Release,
		Version:     t.Version,
		Tags:        t.Tags,
		Public:      t.Public,
		ExternalID:  t.ExternalID,
		Bookmarked:  t.Bookmarked,
		HTMLPath:    htmlPath(t.ProjectID, t.ID),
		Scores:      []string{},
	}
	if row.Tags == nil {
		row.Tags = []string{}
	}

	if mask.Metrics {
		row.Latency = floatOr(t.Latency, 0)
		row.TotalCost = floatOr(t.TotalCost, 0)
	} else {
		row.Latency = domain.MaskedMetricSentinel
		row.TotalCost = domain.MaskedMetricSentinel
	}

	if mask.IO {
		row.Metadata = t.Metadata
		row.Input = t.Input
		row.Output = t.Output
	}

	if mask.Observations {
		row.Observations = observationIDs
		if row.Observations == nil {
			row.Observations = []string{}
		}
	} else {
		row.Observations = []string{}
	}

	return row
}

func htmlPath(projectID string, id uuid.UUID) string {
	return fmt.Sprintf("/project/%s/traces/%s", projectID, id)
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// GetDetail runs the trace-detail query of spec.md §4.8: the trace row
// plus its observations in temporal order, shaped into a TraceDetail.
func (r *TraceRepository) GetDetail(ctx context.Context, id uuid.UUID) (*domain.TraceDetail, error) {
	const traceQuery = `
		SELECT id, project_id, environment, timestamp, name, session_id, user_id,
		       release, version, tags, public, external_id, bookmarked, latency,
		       total_cost, metadata, input, output, created_at, updated_at
		FROM traces
		WHERE id = $1
	`
	var t domain.Trace
	err := r.db.Pool.QueryRow(ctx, traceQuery, id).Scan(
		&t.ID, &t.ProjectID, &t.Environment, &t.Timestamp, &t.Name, &t.SessionID, &t.UserID,
		&t.Release, &t.Version, &t.Tags, &t.Public, &t.ExternalID, &t.Bookmarked, &t.Latency,
		&t.TotalCost, &t.Metadata, &t.Input, &t.Output, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("trace")
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}

	const obsQuery = `
		SELECT id, trace_id, type, name, start_time, end_time, model, model_parameters,
		       input, output, prompt_tokens, completion_tokens, total_tokens,
		       input_price, output_price, total_price,
		       calculated_input_cost, calculated_output_cost, calculated_total_cost,
		       unit, level, status_message, parent_observation_id, prompt_version,
		       metadata, created_at
		FROM observations
		WHERE trace_id = $1
		ORDER BY start_time ASC NULLS LAST, created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, obsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var views []domain.ObservationDetailView
	for rows.Next() {
		var o domain.Observation
		var createdAt time.Time
		if err := rows.Scan(
			&o.ID, &o.TraceID, &o.Type, &o.Name, &o.StartTime, &o.EndTime, &o.Model, &o.ModelParameters,
			&o.Input, &o.Output, &o.PromptTokens, &o.CompletionTokens, &o.TotalTokens,
			&o.InputPrice, &o.OutputPrice, &o.TotalPrice,
			&o.CalculatedInputCost, &o.CalculatedOutputCost, &o.CalculatedTotalCost,
			&o.Unit, &o.Level, &o.StatusMessage, &o.ParentObservationID, &o.PromptVersion,
			&o.Metadata, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Input = r.offload.Resolve(ctx, o.Input)
		o.Output = r.offload.Resolve(ctx, o.Output)
		views = append(views, toDetailView(o, t.ProjectID, createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	if views == nil {
		views = []domain.ObservationDetailView{}
	}

	return &domain.TraceDetail{
		Trace:        t,
		HTMLPath:     htmlPath(t.ProjectID, t.ID),
		Observations: views,
		Scores:       []string{},
	}, nil
}

func toDetailView(o domain.Observation, projectID string, createdAt time.Time) domain.ObservationDetailView {
	level := o.Level
	if level == "" {
		level = domain.DefaultLevel
	}

	startTime := createdAt
	if o.StartTime != nil {
		startTime = *o.StartTime
	}

	view := domain.ObservationDetailView{
		ID:                  o.ID,
		TraceID:             o.TraceID,
		Type:                o.Type,
		Name:                o.Name,
		StartTime:           startTime,
		EndTime:             o.EndTime,
		Model:               o.Model,
		ModelParameters:     o.ModelParameters,
		Input:               o.Input,
		Output:              o.Output,
		Level:               level,
		StatusMessage:       o.StatusMessage,
		ParentObservationID: o.ParentObservationID,
		PromptVersion:       parsePromptVersion(o.PromptVersion),
		Metadata:            o.Metadata,
		HTMLPath:            htmlPath(projectID, o.TraceID),
		Scores:              []string{},
		Usage: domain.UsageView{
			Input:      o.PromptTokens,
			Output:     o.CompletionTokens,
			Total:      o.TotalTokens,
			Unit:       o.Unit,
			InputCost:  o.CalculatedInputCost,
			OutputCost: o.CalculatedOutputCost,
			TotalCost:  o.CalculatedTotalCost,
		},
		UsageDetails: domain.UsageDetails{
			Input:  int64Or(o.PromptTokens),
			Output: int64Or(o.CompletionTokens),
			Total:  int64Or(o.TotalTokens),
		},
		CostDetails: domain.UsageDetails{
			Input:  floatOr(o.CalculatedInputCost, 0),
			Output: floatOr(o.CalculatedOutputCost, 0),
			Total:  floatOr(o.CalculatedTotalCost, 0),
		},
	}
	return view
}

func int64Or(v *int64) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}

// parsePromptVersion implements spec.md §4.8's "if the stored string
// parses as a signed integer, emit that integer, else null".
func parsePromptVersion(s *string) *int64 {
	if s == nil {
		return nil
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
