package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtrace/xtrace/internal/domain"
)

func TestRollupCTEs_IncludesFilterAndUnknownModel(t *testing.T) {
	cte, args := rollupCTEs(domain.TraceFilter{ProjectID: "proj-1"})

	assert.Contains(t, cte, "WITH filtered_traces AS")
	assert.Contains(t, cte, "WHERE project_id = $1")
	assert.Contains(t, cte, "COALESCE(o.model, 'unknown')")
	assert.Contains(t, cte, "daily_usage AS")
	assert.Equal(t, []any{"proj-1"}, args)
}

func TestRollupCTEs_OrdersUsageByCostDescending(t *testing.T) {
	cte, _ := rollupCTEs(domain.TraceFilter{ProjectID: "proj-1"})
	assert.Contains(t, cte, "ORDER BY total_cost DESC")
}
