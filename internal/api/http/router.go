package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helpdesk-labs/ticket-assignment/internal/api/http/handlers"
	"github.com/helpdesk-labs/ticket-assignment/internal/auth"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Assignments    *handlers.AssignmentsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	coordinators := auth.RequireRole(domain.RoleAdmin, domain.RoleProjectManager)

	assignments := app.Group("/assignments", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	assignments.Post("/", cfg.Assignments.Assign)

	// static segments before :ticketId
	assignments.Post("/bulk", coordinators, cfg.Assignments.BulkAssign)
	assignments.Post("/bulk/distribute", coordinators, cfg.Assignments.Distribute)
	assignments.Post("/conflicts/:conflictId/resolve", auth.RequireRole(domain.RoleAdmin), cfg.Assignments.ResolveConflict)

	assignments.Get("/:ticketId/lock", cfg.Assignments.LockStatus)
	assignments.Post("/:ticketId/lock", coordinators, cfg.Assignments.Reserve)
	assignments.Delete("/:ticketId/lock", coordinators, cfg.Assignments.Release)
	assignments.Post("/:ticketId/lock/extend", coordinators, cfg.Assignments.Extend)
	assignments.Get("/:ticketId/history", cfg.Assignments.History)
	assignments.Get("/:ticketId/conflicts", cfg.Assignments.Conflicts)
	assignments.Get("/:ticketId/notifications", cfg.Assignments.Notifications)
	assignments.Delete("/:ticketId", cfg.Assignments.Unassign)
}
