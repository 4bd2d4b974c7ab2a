package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtrace/xtrace/internal/domain"
)

func TestKey_Deterministic(t *testing.T) {
	filter := domain.TraceFilter{ProjectID: "proj-1"}

	k1 := Key("proj-1", filter, 1, 50)
	k2 := Key("proj-1", filter, 1, 50)
	assert.Equal(t, k1, k2)
}

func TestKey_DiffersByPage(t *testing.T) {
	filter := domain.TraceFilter{ProjectID: "proj-1"}

	k1 := Key("proj-1", filter, 1, 50)
	k2 := Key("proj-1", filter, 2, 50)
	assert.NotEqual(t, k1, k2)
}

func TestKey_DiffersByFilter(t *testing.T) {
	name := "checkout"
	k1 := Key("proj-1", domain.TraceFilter{ProjectID: "proj-1"}, 1, 50)
	k2 := Key("proj-1", domain.TraceFilter{ProjectID: "proj-1", Name: &name}, 1, 50)
	assert.NotEqual(t, k1, k2)
}

func TestRollupCache_NilClientAlwaysMisses(t *testing.T) {
	c := NewRollupCache(nil)
	ctx := context.Background()

	data, total, ok := c.Get(ctx, "rollup:anything")
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Zero(t, total)

	// Set on a nil client must not panic.
	c.Set(ctx, "rollup:anything", []domain.DailyMetrics{{}}, 1)
}
