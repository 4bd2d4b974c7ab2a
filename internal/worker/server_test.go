package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/domain"
)

type fakeRollupRepo struct {
	calledFilter domain.TraceFilter
	calledPage   int
	calledLimit  int
	data         []domain.DailyMetrics
	total        int
	err          error
}

func (f *fakeRollupRepo) DailyMetrics(ctx context.Context, filter domain.TraceFilter, page, limit int) ([]domain.DailyMetrics, int, error) {
	f.calledFilter = filter
	f.calledPage = page
	f.calledLimit = limit
	return f.data, f.total, f.err
}

func newTestTask(t *testing.T, payload RollupWarmPayload) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TypeRollupWarm, b)
}

func TestHandleRollupWarm_PopulatesCache(t *testing.T) {
	repo := &fakeRollupRepo{data: []domain.DailyMetrics{{CountTraces: 3}}, total: 1}
	rollupCache := cache.NewRollupCache(nil)
	s := &Server{rollups: repo, rollupTTL: rollupCache}

	task := newTestTask(t, RollupWarmPayload{ProjectID: "proj-1"})
	err := s.handleRollupWarm(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "proj-1", repo.calledFilter.ProjectID)
	assert.Equal(t, 1, repo.calledPage)
	assert.Equal(t, defaultRollupLimit, repo.calledLimit)
}

func TestHandleRollupWarm_PropagatesRepoError(t *testing.T) {
	repo := &fakeRollupRepo{err: assert.AnError}
	s := &Server{rollups: repo, rollupTTL: nil}

	task := newTestTask(t, RollupWarmPayload{ProjectID: "proj-1"})
	err := s.handleRollupWarm(context.Background(), task)
	assert.Error(t, err)
}

func TestHandleRollupWarm_NilCacheStillSucceeds(t *testing.T) {
	repo := &fakeRollupRepo{data: nil, total: 0}
	s := &Server{rollups: repo, rollupTTL: nil}

	task := newTestTask(t, RollupWarmPayload{ProjectID: "proj-2"})
	err := s.handleRollupWarm(context.Background(), task)
	assert.NoError(t, err)
}
