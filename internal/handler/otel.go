package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xtrace/xtrace/internal/ingest"
	"github.com/xtrace/xtrace/internal/middleware"
	"github.com/xtrace/xtrace/internal/otlp"
	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
)

// OTelHandler implements spec.md §6's OTLP/HTTP receiver: decode (JSON
// or protobuf, optionally gzip), map to BatchIngest via the OTLP mapper,
// and offer every resulting batch to the same ingest queue the
// /v1/l/batch path uses.
type OTelHandler struct {
	queue              *ingest.Queue
	defaultEnvironment string
}

// NewOTelHandler creates an OTLP handler over the shared ingest queue.
func NewOTelHandler(queue *ingest.Queue, defaultEnvironment string) *OTelHandler {
	return &OTelHandler{queue: queue, defaultEnvironment: defaultEnvironment}
}

// ExportTraces handles POST /api/public/otel/v1/traces.
func (h *OTelHandler) ExportTraces(c *fiber.Ctx) error {
	projectID, err := requireProjectID(c)
	if err != nil {
		return err
	}

	req, err := otlp.Decode(c.Body(), c.Get("Content-Type"), c.Get("Content-Encoding"))
	if err != nil {
		appErr := apperrors.GetAppError(err)
		if appErr != nil {
			return messageResponse(c, appErr.StatusCode, appErr.Message)
		}
		return badRequest(c, err.Error())
	}

	for _, item := range otlp.Map(req, projectID, h.defaultEnvironment) {
		if err := h.queue.Offer(item); err != nil {
			return queueError(c, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{})
}

// RegisterRoutes registers the OTLP export endpoint behind auth.
func (h *OTelHandler) RegisterRoutes(app *fiber.App, auth *middleware.Auth) {
	app.Post("/api/public/otel/v1/traces", auth.Require(), h.ExportTraces)
}
