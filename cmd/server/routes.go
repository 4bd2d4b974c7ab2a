package main

import (
	"github.com/gofiber/fiber/v2"
)

// registerRoutes wires every spec.md §6 endpoint onto app. Health
// probes are unauthenticated; every other route runs behind
// deps.auth.Require().
func registerRoutes(app *fiber.App, deps *Dependencies) {
	deps.health.RegisterRoutes(app)
	deps.ingestion.RegisterRoutes(app, deps.auth)
	deps.otel.RegisterRoutes(app, deps.auth)
	deps.traces.RegisterRoutes(app, deps.auth)
	deps.projects.RegisterRoutes(app, deps.auth)
}
