package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/campus-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := api.Group("/tickets")
	tickets.Post("/", auth.RequireCapability(domain.CapTicketCreate), cfg.Tickets.CreateTicket)
	tickets.Get("/:number", cfg.Tickets.GetTicket)
	tickets.Get("/:number/duplicates", cfg.Tickets.ListDuplicates)
	tickets.Get("/:number/escalations", cfg.Tickets.ListEscalations)
	tickets.Get("/:number/messages", cfg.Tickets.ListMessages)
	tickets.Post("/:number/messages", cfg.Tickets.AddMessage)

	tickets.Post("/:number/transitions", cfg.StaffTickets.Transition)
	tickets.Post("/:number/escalate", auth.RequireCapability(domain.CapTicketEscalate), cfg.StaffTickets.Escalate)
	tickets.Post("/:number/assign", auth.RequireCapability(domain.CapTicketAssign), cfg.StaffTickets.Assign)
	tickets.Post("/:number/unlink", auth.RequireCapability(domain.CapTicketUpdate), cfg.StaffTickets.Unlink)
}
