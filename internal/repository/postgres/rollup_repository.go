package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/database"
)

// RollupRepository runs the daily rollup aggregation of spec.md §4.7: a
// multi-CTE query producing per-day trace/observation counts, cost
// totals, and a per-model usage breakdown.
type RollupRepository struct {
	db *database.PostgresDB
}

// NewRollupRepository creates a new rollup repository.
func NewRollupRepository(db *database.PostgresDB) *RollupRepository {
	return &RollupRepository{db: db}
}

// rollupCTEs builds the five leading CTEs shared by the rollup's data
// query and its companion count query (spec.md §4.7 steps 1-5).
func rollupCTEs(filter domain.TraceFilter) (string, []any) {
	where, args := whereClause(filter)
	cte := fmt.Sprintf(`
		WITH filtered_traces AS (
			SELECT id, total_cost, (timestamp AT TIME ZONE 'UTC')::date AS day
			FROM traces
			%s
		),
		daily AS (
			SELECT day, COUNT(*) AS count_traces, COALESCE(SUM(total_cost), 0) AS total_cost
			FROM filtered_traces
			GROUP BY day
		),
		daily_obs AS (
			SELECT ft.day, COUNT(o.id) AS count_observations
			FROM filtered_traces ft
			JOIN observations o ON o.trace_id = ft.id
			GROUP BY ft.day
		),
		model_usage AS (
			SELECT
				ft.day,
				COALESCE(o.model, '%s') AS model,
				SUM(COALESCE(o.prompt_tokens, 0)) AS input_usage,
				SUM(COALESCE(o.completion_tokens, 0)) AS output_usage,
				SUM(COALESCE(o.total_tokens, 0)) AS total_usage,
				COUNT(DISTINCT ft.id) AS count_traces,
				COUNT(o.id) AS count_observations,
				COALESCE(SUM(o.calculated_total_cost), 0) AS total_cost
			FROM filtered_traces ft
			JOIN observations o ON o.trace_id = ft.id
			WHERE o.type = 'GENERATION'
			GROUP BY ft.day, COALESCE(o.model, '%s')
		),
		daily_usage AS (
			SELECT
				day,
				jsonb_agg(
					jsonb_build_object(
						'model', model,
						'inputUsage', input_usage,
						'outputUsage', output_usage,
						'totalUsage', total_usage,
						'countTraces', count_traces,
						'countObservations', count_observations,
						'totalCost', total_cost
					) ORDER BY total_cost DESC
				) AS usage
			FROM model_usage
			GROUP BY day
		)
	`, where, domain.UnknownModel, domain.UnknownModel)
	return cte, args
}

// DailyMetrics returns one page of the spec.md §4.7 daily rollup,
// ordered by date descending, plus the total number of days that would
// appear across all pages.
func (r *RollupRepository) DailyMetrics(ctx context.Context, filter domain.TraceFilter, page, limit int) ([]domain.DailyMetrics, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	cte, args := rollupCTEs(filter)

	var total int
	countQuery := cte + "SELECT COUNT(*) FROM daily"
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rollup days: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	offset := (page - 1) * limit
	dataQuery := fmt.Sprintf(`
		%s
		SELECT d.day, d.count_traces, COALESCE(do.count_observations, 0), d.total_cost,
		       COALESCE(du.usage, '[]'::jsonb)
		FROM daily d
		LEFT JOIN daily_obs do ON do.day = d.day
		LEFT JOIN daily_usage du ON du.day = d.day
		ORDER BY d.day DESC
		LIMIT $%d OFFSET $%d
	`, cte, len(args)+1, len(args)+2)

	queryArgs := append(append([]any{}, args...), limit, offset)
	rows, err := r.db.Pool.Query(ctx, dataQuery, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query rollup: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMetrics
	for rows.Next() {
		var m domain.DailyMetrics
		var usageJSON []byte
		if err := rows.Scan(&m.Date, &m.CountTraces, &m.CountObservations, &m.TotalCost, &usageJSON); err != nil {
			return nil, 0, fmt.Errorf("scan rollup row: %w", err)
		}
		var usage []domain.ModelUsage
		if err := json.Unmarshal(usageJSON, &usage); err != nil {
			return nil, 0, fmt.Errorf("decode rollup usage: %w", err)
		}
		m.Usage = usage
		out = append(out, m)
	}
	return out, total, rows.Err()
}
