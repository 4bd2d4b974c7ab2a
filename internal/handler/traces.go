package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/xtrace/xtrace/internal/cache"
	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/middleware"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/pkg/pagination"
)

// TraceRepository is the read side the trace-list (spec.md §4.6) and
// trace-detail (spec.md §4.8) endpoints query. Declared here rather than
// importing the concrete internal/repository/postgres type, so handlers
// stay testable with a fake.
type TraceRepository interface {
	List(ctx context.Context, filter domain.TraceFilter, order domain.OrderBy, mask domain.FieldMask, page, limit int) ([]domain.TraceListRow, int, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*domain.TraceDetail, error)
}

// RollupRepository is the read side the daily-rollup endpoint (spec.md
// §4.7) queries.
type RollupRepository interface {
	DailyMetrics(ctx context.Context, filter domain.TraceFilter, page, limit int) ([]domain.DailyMetrics, int, error)
}

// TracesHandler implements spec.md §6's three read endpoints.
type TracesHandler struct {
	traces      TraceRepository
	rollups     RollupRepository
	rollupCache *cache.RollupCache
	cursors     *pagination.Codec
}

// NewTracesHandler builds the query handler. rollupCache may wrap a nil
// Redis client (cache.NewRollupCache(nil)), in which case the daily-rollup
// path always falls through to Postgres; rollupCache itself is used
// without a nil check.
func NewTracesHandler(traces TraceRepository, rollups RollupRepository, rollupCache *cache.RollupCache, cursors *pagination.Codec) *TracesHandler {
	return &TracesHandler{traces: traces, rollups: rollups, rollupCache: rollupCache, cursors: cursors}
}

// ListTraces handles GET /api/public/traces (spec.md §4.6).
func (h *TracesHandler) ListTraces(c *fiber.Ctx) error {
	projectID, err := requireProjectID(c)
	if err != nil {
		return err
	}

	filter, err := parseTraceFilter(c, projectID)
	if err != nil {
		return badRequest(c, err.Error())
	}

	order, ok := domain.ParseOrderBy(c.Query("order_by"))
	if !ok {
		return badRequest(c, "invalid order_by column")
	}
	mask := parseFields(c)
	page, limit := parsePage(c), parseLimit(c)

	rows, total, err := h.traces.List(c.Context(), filter, order, mask, page, limit)
	if err != nil {
		return queryError(c, err)
	}
	if rows == nil {
		rows = []domain.TraceListRow{}
	}

	cursor := ""
	if h.cursors != nil {
		cursor = h.cursors.Encode(page, limit, pagination.FilterHash(filter))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": rows,
		"meta": newPageMeta(page, limit, total, cursor),
	})
}

// GetTrace handles GET /api/public/traces/{traceId} (spec.md §4.8).
func (h *TracesHandler) GetTrace(c *fiber.Ctx) error {
	if _, err := requireProjectID(c); err != nil {
		return err
	}

	id, err := uuid.Parse(c.Params("traceId"))
	if err != nil {
		return badRequest(c, "invalid trace id")
	}

	detail, err := h.traces.GetDetail(c.Context(), id)
	if err != nil {
		return queryError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(detail)
}

// DailyMetrics handles GET /api/public/metrics/daily (spec.md §4.7).
func (h *TracesHandler) DailyMetrics(c *fiber.Ctx) error {
	projectID, err := requireProjectID(c)
	if err != nil {
		return err
	}

	filter, err := parseTraceFilter(c, projectID)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if filter.ToTime == nil {
		now := time.Now().UTC()
		filter.ToTime = &now
	}
	if filter.FromTime == nil {
		from := filter.ToTime.AddDate(0, 0, -30)
		filter.FromTime = &from
	}
	page, limit := parsePage(c), parseLimit(c)

	key := cache.Key(projectID, filter, page, limit)
	if data, total, ok := h.rollupCache.Get(c.Context(), key); ok {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"data": data,
			"meta": newPageMeta(page, limit, total, ""),
		})
	}

	data, total, err := h.rollups.DailyMetrics(c.Context(), filter, page, limit)
	if err != nil {
		return queryError(c, err)
	}
	if data == nil {
		data = []domain.DailyMetrics{}
	}
	h.rollupCache.Set(c.Context(), key, data, total)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": newPageMeta(page, limit, total, ""),
	})
}

// parseTraceFilter builds the filter DSL of spec.md §4.6/§4.7 from the
// query string. `tags` and `environment` accept either a repeated query
// parameter or a single comma-separated value.
func parseTraceFilter(c *fiber.Ctx, projectID string) (domain.TraceFilter, error) {
	filter := domain.TraceFilter{ProjectID: projectID}

	if v := c.Query("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := c.Query("name"); v != "" {
		filter.Name = &v
	}
	if v := c.Query("session_id"); v != "" {
		filter.SessionID = &v
	}
	if v := c.Query("version"); v != "" {
		filter.Version = &v
	}
	if v := c.Query("release"); v != "" {
		filter.Release = &v
	}
	filter.Tags = multiQuery(c, "tags")
	filter.Environment = multiQuery(c, "environment")

	from, err := parseTimeQuery(c, "fromTimestamp")
	if err != nil {
		return filter, err
	}
	filter.FromTime = from

	to, err := parseTimeQuery(c, "toTimestamp")
	if err != nil {
		return filter, err
	}
	filter.ToTime = to

	return filter, nil
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// multiQuery reads a query parameter that may appear either repeated
// (?tags=a&tags=b) or as a single comma-separated value (?tags=a,b).
func multiQuery(c *fiber.Ctx, key string) []string {
	var out []string
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		if string(k) != key {
			return
		}
		for _, part := range strings.Split(string(v), ",") {
			if part != "" {
				out = append(out, part)
			}
		}
	})
	return out
}

func queryError(c *fiber.Ctx, err error) error {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return messageResponse(c, appErr.StatusCode, appErr.Message)
	}
	return internalError(c, err)
}

// RegisterRoutes registers the read endpoints behind auth.
func (h *TracesHandler) RegisterRoutes(app *fiber.App, auth *middleware.Auth) {
	app.Get("/api/public/traces", auth.Require(), h.ListTraces)
	app.Get("/api/public/traces/:traceId", auth.Require(), h.GetTrace)
	app.Get("/api/public/metrics/daily", auth.Require(), h.DailyMetrics)
}
