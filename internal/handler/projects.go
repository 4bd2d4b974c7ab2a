package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/middleware"
)

// ProjectLister is the read side GET /api/public/projects (spec.md §6)
// queries. Declared here rather than importing the concrete
// internal/repository/postgres type, so the handler stays testable
// with a fake.
type ProjectLister interface {
	ListKeyed(ctx context.Context) ([]domain.Project, error)
}

// ProjectsHandler implements spec.md §6's project listing endpoint.
// The core always exposes exactly the configured default project; the
// multi-project supplement (SPEC_FULL.md §3) surfaces any additional
// keyed project rows alongside it.
type ProjectsHandler struct {
	projects ProjectLister
}

// NewProjectsHandler builds the projects handler.
func NewProjectsHandler(projects ProjectLister) *ProjectsHandler {
	return &ProjectsHandler{projects: projects}
}

// ListProjects handles GET /api/public/projects.
func (h *ProjectsHandler) ListProjects(c *fiber.Ctx) error {
	if _, err := requireProjectID(c); err != nil {
		return err
	}

	projects, err := h.projects.ListKeyed(c.Context())
	if err != nil {
		return queryError(c, err)
	}
	if projects == nil {
		projects = []domain.Project{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": projects})
}

// RegisterRoutes registers the project listing endpoint behind auth.
func (h *ProjectsHandler) RegisterRoutes(app *fiber.App, auth *middleware.Auth) {
	app.Get("/api/public/projects", auth.Require(), h.ListProjects)
}
