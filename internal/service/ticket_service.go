package service

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// TicketService serves the read side: lookups, duplicate queries and the
// escalation audit trail. Writes go through TicketStateMachine.
type TicketService struct {
	tickets     repository.TicketRepository
	escalations repository.EscalationRepository
	permissions *auth.PermissionModel
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	EscalationRepo repository.EscalationRepository
	Permissions    *auth.PermissionModel
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		tickets:     deps.TicketRepo,
		escalations: deps.EscalationRepo,
		permissions: deps.Permissions,
	}
	if s.permissions == nil {
		s.permissions = auth.NewPermissionModel()
	}
	return s
}

// GetByNumber fetches a ticket the actor may read. Requesters can always
// read their own tickets.
func (s *TicketService) GetByNumber(ctx context.Context, actor domain.Principal, number string) (*domain.Ticket, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if !strings.HasPrefix(number, domain.TicketNumberPrefix+"-") {
		return nil, apperrors.NewValidationError("invalid ticket number", map[string]any{"ticket_number": number})
	}
	ticket, err := s.tickets.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_number": number})
		}
		return nil, apperrors.MapError(err)
	}
	if err := s.authorizeRead(actor, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListDuplicates returns the tickets linked to the given parent that the
// actor may read on their own. A requester sees only the duplicates they
// filed.
func (s *TicketService) ListDuplicates(ctx context.Context, actor domain.Principal, number string) ([]domain.Ticket, error) {
	parent, err := s.GetByNumber(ctx, actor, number)
	if err != nil {
		return nil, err
	}
	dups, err := s.tickets.ListDuplicatesOf(ctx, parent.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	visible := dups[:0]
	for i := range dups {
		if s.authorizeRead(actor, &dups[i]) == nil {
			visible = append(visible, dups[i])
		}
	}
	return visible, nil
}

// Escalations returns the escalation history of a ticket, oldest first.
func (s *TicketService) Escalations(ctx context.Context, actor domain.Principal, number string) ([]domain.EscalationEvent, error) {
	ticket, err := s.GetByNumber(ctx, actor, number)
	if err != nil {
		return nil, err
	}
	history, err := s.escalations.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return history, nil
}

func (s *TicketService) authorizeRead(actor domain.Principal, ticket *domain.Ticket) error {
	if isRequester(actor, ticket) {
		return nil
	}
	return s.permissions.Authorize(actor, domain.CapTicketRead, ticket.Scope)
}

func isRequester(actor domain.Principal, ticket *domain.Ticket) bool {
	return !actor.System && actor.UserID != "" && actor.UserID == ticket.CreatorID
}
