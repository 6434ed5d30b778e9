package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

const maxAttachmentsPerMessage = 10

// MessageService appends to and reads ticket threads.
type MessageService struct {
	tickets     repository.TicketRepository
	messages    repository.TicketMessageRepository
	machine     *TicketStateMachine
	permissions *auth.PermissionModel
	clock       clock.Clock
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// MessageDependencies bundles collaborators for the message service.
type MessageDependencies struct {
	TicketRepo   repository.TicketRepository
	MessageRepo  repository.TicketMessageRepository
	StateMachine *TicketStateMachine
	Permissions  *auth.PermissionModel
	Clock        clock.Clock
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// NewMessageService constructs the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	s := &MessageService{
		tickets:     deps.TicketRepo,
		messages:    deps.MessageRepo,
		machine:     deps.StateMachine,
		permissions: deps.Permissions,
		clock:       deps.Clock,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
	}
	if s.permissions == nil {
		s.permissions = auth.NewPermissionModel()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// MessageInput is a new thread entry.
type MessageInput struct {
	Body          string
	Internal      bool
	AttachmentIDs []string
}

// AddMessage appends a message. Requesters may always reply on their own
// ticket; staff need ticket:reply, and internal notes need
// ticket:internal-note. A requester reply on a PENDING_INFO ticket resumes
// work on it.
func (s *MessageService) AddMessage(ctx context.Context, actor domain.Principal, ticketID string, in MessageInput) (*domain.TicketMessage, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}

	body := strings.TrimSpace(in.Body)
	if n := utf8.RuneCountInString(body); n < domain.MessageBodyMinLength || n > domain.MessageBodyMaxLength {
		return nil, apperrors.NewValidationError("message body must be 1-5000 characters", map[string]any{"length": n})
	}
	attachments, err := normalizeAttachments(in.AttachmentIDs)
	if err != nil {
		return nil, err
	}

	requester := isRequester(actor, ticket)
	switch {
	case in.Internal:
		if err := s.permissions.Authorize(actor, domain.CapTicketInternalNote, ticket.Scope); err != nil {
			return nil, err
		}
	case !requester:
		if err := s.permissions.Authorize(actor, domain.CapTicketReply, ticket.Scope); err != nil {
			return nil, err
		}
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewInvalidTransition("ticket is closed to new messages", map[string]any{
			"ticket_number": ticket.Number,
			"status":        ticket.Status,
		})
	}

	msg := &domain.TicketMessage{
		ID:            uuid.NewString(),
		TicketID:      ticket.ID,
		AuthorType:    authorType(actor, requester, in.Internal),
		AuthorID:      actor.UserID,
		Body:          body,
		IsInternal:    in.Internal,
		AttachmentIDs: attachments,
		CreatedAt:     s.clock.Now(),
	}
	evt := messageAddedEvent(ticket, actor, msg)
	if err := s.messages.Create(ctx, msg, []events.Event{evt}); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, evt)

	if msg.AuthorType == domain.AuthorTypeRequester && ticket.Status == domain.TicketStatusPendingInfo && s.machine != nil {
		if _, err := s.machine.ResumeOnRequesterReply(ctx, ticket.ID); err != nil {
			s.logger.Warn("resume after requester reply failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("ticket_number", ticket.Number),
				zap.Error(err))
		}
	}
	return msg, nil
}

// ListMessages returns the thread. Internal notes are only visible to
// principals holding ticket:internal-note on the ticket.
func (s *MessageService) ListMessages(ctx context.Context, actor domain.Principal, ticketID string) ([]domain.TicketMessage, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !isRequester(actor, ticket) {
		if err := s.permissions.Authorize(actor, domain.CapTicketRead, ticket.Scope); err != nil {
			return nil, err
		}
	}

	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if s.permissions.Allowed(actor, domain.CapTicketInternalNote, ticket.Scope) {
		return msgs, nil
	}
	visible := make([]domain.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.IsInternal {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

func messageAddedEvent(ticket *domain.Ticket, actor domain.Principal, msg *domain.TicketMessage) events.Event {
	evt := events.Event{
		ID:           uuid.NewString(),
		Type:         events.EventTicketMessageAdded,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		Actor:        events.ActorFor(actor),
		Timestamp:    msg.CreatedAt,
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			AuthorType:  msg.AuthorType,
			AuthorID:    msg.AuthorID,
			IsInternal:  msg.IsInternal,
			BodyPreview: stringPreview(msg.Body, 120),
		},
	}
	evt.Seal()
	return evt
}

func (s *MessageService) publish(ctx context.Context, evt events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(evt.Type)), zap.Error(err))
	}
}

func authorType(actor domain.Principal, requester, internal bool) domain.MessageAuthorType {
	switch {
	case actor.System:
		return domain.AuthorTypeSystem
	case requester && !internal:
		return domain.AuthorTypeRequester
	}
	return domain.AuthorTypeStaff
}

func normalizeAttachments(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) > maxAttachmentsPerMessage {
		return nil, apperrors.NewValidationError("too many attachments", map[string]any{"max": maxAttachmentsPerMessage})
	}
	return out, nil
}

func stringPreview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
