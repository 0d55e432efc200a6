package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/case-timeline-service/internal/api/http/handlers"
	"github.com/spec-kit/case-timeline-service/internal/auth"
	"github.com/spec-kit/case-timeline-service/internal/domain"
	"github.com/spec-kit/case-timeline-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Cases          *handlers.CasesHandler
	Timeline       *handlers.TimelineHandler
	Escalations    *handlers.EscalationsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireRole())

	cases := api.Group("/cases")
	cases.Get("/:id/timeline", cfg.Timeline.GetTimeline)
	cases.Get("/:id/duration-summary", cfg.Timeline.GetDurationSummary)
	cases.Get("/:id/escalations", cfg.Escalations.ListForCase)
	cases.Post("/:id/submission", cfg.Cases.RecordSubmission)
	cases.Patch("/:id/status", cfg.Cases.ChangeStatus)
	cases.Put("/:id/assignee", auth.RequireAdmin(), cfg.Cases.Assign)
	cases.Delete("/:id/assignee", auth.RequireAdmin(), cfg.Cases.Unassign)
	cases.Patch("/:id/priority", auth.RequireAdmin(), cfg.Cases.ChangePriority)

	escalations := api.Group("/escalations")
	escalations.Post("/scan", auth.RequireRole(domain.RoleSuperAdmin), cfg.Escalations.RunScan)
	escalations.Post("/:id/resolve", auth.RequireAdmin(), cfg.Escalations.Resolve)
}
