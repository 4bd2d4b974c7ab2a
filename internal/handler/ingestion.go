package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/ingest"
	"github.com/xtrace/xtrace/internal/middleware"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
	"github.com/xtrace/xtrace/internal/validator"
)

// BatchIngestRequest is the wire shape of POST /v1/l/batch (spec.md
// §4.2, §6): zero or one trace envelope and zero or more observation
// envelopes.
type BatchIngestRequest struct {
	Trace        *domain.Trace        `json:"trace,omitempty"`
	Observations []domain.Observation `json:"observations,omitempty" validate:"dive"`
}

// IngestionHandler implements spec.md §4.4's admission-controlled
// ingest entrypoint: parse, validate, stamp the authenticated project
// id, and offer to the bounded queue. It never touches the database
// directly — the batching worker owns that.
type IngestionHandler struct {
	queue *ingest.Queue
}

// NewIngestionHandler creates an ingestion handler over the shared
// ingest queue.
func NewIngestionHandler(queue *ingest.Queue) *IngestionHandler {
	return &IngestionHandler{queue: queue}
}

// BatchIngest handles POST /v1/l/batch.
func (h *IngestionHandler) BatchIngest(c *fiber.Ctx) error {
	projectID, err := requireProjectID(c)
	if err != nil {
		return err
	}

	var req BatchIngestRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if err := validator.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Trace == nil && len(req.Observations) == 0 {
		return badRequest(c, "batch must contain a trace or at least one observation")
	}

	stampProjectID(req.Trace, req.Observations, projectID)

	item := domain.BatchIngest{Trace: req.Trace, Observations: req.Observations}
	if err := h.queue.Offer(item); err != nil {
		return queueError(c, err)
	}

	return messageResponse(c, fiber.StatusOK, "Request Successful.")
}

// stampProjectID fills in the project id resolved by auth for any
// envelope that omitted one, so the upsert layer's own default-project
// fallback (internal/repository/postgres/upsert.go) sees the caller's
// actual project rather than always the server default.
func stampProjectID(trace *domain.Trace, observations []domain.Observation, projectID string) {
	if trace != nil && trace.ProjectID == "" {
		trace.ProjectID = projectID
	}
	for i := range observations {
		if observations[i].ProjectID == "" {
			observations[i].ProjectID = projectID
		}
	}
}

// queueError maps a Queue.Offer error (TooManyRequests or
// ServiceUnavailable, spec.md §7) onto the response envelope.
func queueError(c *fiber.Ctx, err error) error {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return internalError(c, err)
	}
	return messageResponse(c, appErr.StatusCode, appErr.Message)
}

// RegisterRoutes registers the ingestion endpoint behind auth.
func (h *IngestionHandler) RegisterRoutes(app *fiber.App, auth *middleware.Auth) {
	app.Post("/v1/l/batch", auth.Require(), h.BatchIngest)
}
