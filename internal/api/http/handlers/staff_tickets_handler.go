package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-helpdesk/internal/api/dto"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/service"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// StaffTicketsHandler handles workflow actions: status transitions,
// escalation, assignment and unlinking.
type StaffTicketsHandler struct {
	tickets *service.TicketService
	machine *service.TicketStateMachine
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(tickets *service.TicketService, machine *service.TicketStateMachine) *StaffTicketsHandler {
	return &StaffTicketsHandler{tickets: tickets, machine: machine}
}

// Transition POST /tickets/:number/transitions.
func (h *StaffTicketsHandler) Transition(c *fiber.Ctx) error {
	principal, ticket, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	res, err := h.machine.Transition(c.UserContext(), principal, ticket.ID, req.Status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Transition(res.Ticket, res.Applied, res.Events)})
}

// Escalate POST /tickets/:number/escalate.
func (h *StaffTicketsHandler) Escalate(c *fiber.Ctx) error {
	principal, ticket, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.EscalateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	res, err := h.machine.Escalate(c.UserContext(), principal, ticket.ID, domain.TriggerManual, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Transition(res.Ticket, res.Applied, res.Events)})
}

// Assign POST /tickets/:number/assign.
func (h *StaffTicketsHandler) Assign(c *fiber.Ctx) error {
	principal, ticket, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.machine.Assign(c.UserContext(), principal, ticket.ID, req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Transition(res.Ticket, res.Applied, res.Events)})
}

// Unlink POST /tickets/:number/unlink.
func (h *StaffTicketsHandler) Unlink(c *fiber.Ctx) error {
	principal, ticket, err := h.target(c)
	if err != nil {
		return err
	}
	res, err := h.machine.Unlink(c.UserContext(), principal, ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Transition(res.Ticket, res.Applied, res.Events)})
}

// target resolves the ticket in the path; read access is required before
// any write is attempted.
func (h *StaffTicketsHandler) target(c *fiber.Ctx) (domain.Principal, *domain.Ticket, error) {
	principal, err := currentPrincipal(c)
	if err != nil {
		return domain.Principal{}, nil, err
	}
	ticket, err := h.tickets.GetByNumber(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return domain.Principal{}, nil, err
	}
	return principal, ticket, nil
}
