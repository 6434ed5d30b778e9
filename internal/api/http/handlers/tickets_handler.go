package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-helpdesk/internal/api/dto"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/service"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// TicketsHandler serves ticket intake, reads and the message thread.
type TicketsHandler struct {
	intake   *service.TicketIntakeService
	tickets  *service.TicketService
	messages *service.MessageService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(intake *service.TicketIntakeService, tickets *service.TicketService, messages *service.MessageService) *TicketsHandler {
	return &TicketsHandler{intake: intake, tickets: tickets, messages: messages}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	res, err := h.intake.Submit(c.UserContext(), principal, service.IntakeRequest{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Category:     req.Category,
		DepartmentID: req.DepartmentID,
	})
	if err != nil {
		return err
	}

	resp := dto.CreateTicketResponse{
		Ticket:          dto.Ticket(res.Ticket),
		DetectorSkipped: res.DetectorSkipped,
	}
	if res.Duplicate != nil {
		resp.Duplicate = &dto.DuplicateResponse{
			TicketID:     res.Duplicate.Ticket.ID,
			TicketNumber: res.Duplicate.Ticket.Number,
			Similarity:   res.Duplicate.Score,
		}
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// GetTicket GET /tickets/:number.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetByNumber(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Ticket(ticket)})
}

// ListDuplicates GET /tickets/:number/duplicates.
func (h *TicketsHandler) ListDuplicates(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	dups, err := h.tickets.ListDuplicates(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Tickets(dups)})
}

// ListEscalations GET /tickets/:number/escalations.
func (h *TicketsHandler) ListEscalations(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	history, err := h.tickets.Escalations(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Escalations(history)})
}

// ListMessages GET /tickets/:number/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetByNumber(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return err
	}
	msgs, err := h.messages.ListMessages(c.UserContext(), principal, ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.Messages(msgs)})
}

// AddMessage POST /tickets/:number/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.GetByNumber(c.UserContext(), principal, c.Params("number"))
	if err != nil {
		return err
	}
	msg, err := h.messages.AddMessage(c.UserContext(), principal, ticket.ID, service.MessageInput{
		Body:          req.Body,
		Internal:      req.Internal,
		AttachmentIDs: req.AttachmentIDs,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.Message(msg)})
}

func currentPrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthenticated("authentication required")
	}
	return *principal, nil
}
