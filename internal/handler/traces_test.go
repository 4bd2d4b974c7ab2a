package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/middleware"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/pkg/pagination"
)

type fakeTraceRepo struct {
	rows      []domain.TraceListRow
	total     int
	listErr   error
	detail    *domain.TraceDetail
	detailErr error
	gotFilter domain.TraceFilter
	gotOrder  domain.OrderBy
	gotMask   domain.FieldMask
	gotPage   int
	gotLimit  int
	gotID     uuid.UUID
}

func (f *fakeTraceRepo) List(_ context.Context, filter domain.TraceFilter, order domain.OrderBy, mask domain.FieldMask, page, limit int) ([]domain.TraceListRow, int, error) {
	f.gotFilter, f.gotOrder, f.gotMask, f.gotPage, f.gotLimit = filter, order, mask, page, limit
	return f.rows, f.total, f.listErr
}

func (f *fakeTraceRepo) GetDetail(_ context.Context, id uuid.UUID) (*domain.TraceDetail, error) {
	f.gotID = id
	return f.detail, f.detailErr
}

type fakeRollupRepo struct {
	data      []domain.DailyMetrics
	total     int
	err       error
	gotFilter domain.TraceFilter
}

func (f *fakeRollupRepo) DailyMetrics(_ context.Context, filter domain.TraceFilter, page, limit int) ([]domain.DailyMetrics, int, error) {
	f.gotFilter = filter
	return f.data, f.total, f.err
}

func setupTracesTestApp(h *TracesHandler, projectID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if projectID != "" {
			c.Locals(string(middleware.ContextKeyProjectID), projectID)
		}
		return c.Next()
	})
	app.Get("/api/public/traces", h.ListTraces)
	app.Get("/api/public/traces/:traceId", h.GetTrace)
	app.Get("/api/public/metrics/daily", h.DailyMetrics)
	return app
}

func TestTracesHandler_ListTraces(t *testing.T) {
	t.Run("returns rows and pagination meta", func(t *testing.T) {
		repo := &fakeTraceRepo{
			rows:  []domain.TraceListRow{{ID: uuid.New(), Tags: []string{}, Observations: []string{}, Scores: []string{}}},
			total: 30,
		}
		h := NewTracesHandler(repo, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces?limit=5&page=1&fields=observations", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data []domain.TraceListRow `json:"data"`
			Meta PageMeta              `json:"meta"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body.Data, 1)
		assert.Equal(t, 30, body.Meta.TotalItems)
		assert.Equal(t, 6, body.Meta.TotalPages)
		assert.NotEmpty(t, body.Meta.Cursor)

		assert.Equal(t, "proj-1", repo.gotFilter.ProjectID)
		assert.True(t, repo.gotMask.Observations)
	})

	t.Run("rejects an invalid order_by column", func(t *testing.T) {
		h := NewTracesHandler(&fakeTraceRepo{}, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces?order_by=nope", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects a malformed fromTimestamp", func(t *testing.T) {
		h := NewTracesHandler(&fakeTraceRepo{}, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces?fromTimestamp=not-a-time", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("parses comma-separated tags and environment", func(t *testing.T) {
		repo := &fakeTraceRepo{}
		h := NewTracesHandler(repo, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces?tags=a,b&environment=prod,staging", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"a", "b"}, repo.gotFilter.Tags)
		assert.Equal(t, []string{"prod", "staging"}, repo.gotFilter.Environment)
	})

	t.Run("returns 401 without a resolved project", func(t *testing.T) {
		h := NewTracesHandler(&fakeTraceRepo{}, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestTracesHandler_GetTrace(t *testing.T) {
	t.Run("returns the detail view", func(t *testing.T) {
		id := uuid.New()
		repo := &fakeTraceRepo{detail: &domain.TraceDetail{Trace: domain.Trace{ID: id}}}
		h := NewTracesHandler(repo, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces/"+id.String(), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, id, repo.gotID)
	})

	t.Run("rejects a malformed trace id", func(t *testing.T) {
		h := NewTracesHandler(&fakeTraceRepo{}, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces/not-a-uuid", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("returns 404 when the repository reports not found", func(t *testing.T) {
		repo := &fakeTraceRepo{detailErr: apperrors.NotFound("trace")}
		h := NewTracesHandler(repo, &fakeRollupRepo{}, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/traces/"+uuid.New().String(), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestTracesHandler_DailyMetrics(t *testing.T) {
	t.Run("defaults to a trailing 30-day window", func(t *testing.T) {
		repo := &fakeRollupRepo{data: []domain.DailyMetrics{{CountTraces: 3, TotalCost: 6.0}}, total: 1}
		h := NewTracesHandler(&fakeTraceRepo{}, repo, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/metrics/daily", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.NotNil(t, repo.gotFilter.FromTime)
		require.NotNil(t, repo.gotFilter.ToTime)
		assert.WithinDuration(t, repo.gotFilter.ToTime.AddDate(0, 0, -30), *repo.gotFilter.FromTime, time.Second)
	})

	t.Run("honors an explicit time range", func(t *testing.T) {
		repo := &fakeRollupRepo{}
		h := NewTracesHandler(&fakeTraceRepo{}, repo, cache.NewRollupCache(nil), pagination.NewCodec("secret"))
		app := setupTracesTestApp(h, "proj-1")

		req := httptest.NewRequest(http.MethodGet, "/api/public/metrics/daily?fromTimestamp=2023-11-14T00:00:00Z&toTimestamp=2023-11-15T00:00:00Z", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		require.NotNil(t, repo.gotFilter.FromTime)
		assert.Equal(t, "2023-11-14T00:00:00Z", repo.gotFilter.FromTime.Format(time.RFC3339))
	})
}
