package dto

import (
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
)

// Ticket converts the aggregate into its response shape.
func Ticket(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                t.ID,
		Number:            t.Number,
		Title:             t.Title,
		Description:       t.Description,
		Status:            t.Status,
		Priority:          t.Priority,
		Urgency:           t.Urgency,
		Category:          t.Category,
		Scope:             t.Scope,
		CreatorID:         t.CreatorID,
		AssigneeID:        t.AssigneeID,
		Level:             t.Level,
		LevelName:         t.Level.String(),
		Deadline:          t.Deadline,
		ResolvedAt:        t.ResolvedAt,
		LinkedDuplicateOf: t.LinkedDuplicateOf,
		Version:           t.Version,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

// Tickets converts a slice.
func Tickets(list []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(list))
	for i := range list {
		out = append(out, Ticket(&list[i]))
	}
	return out
}

// Transition wraps a state machine result.
func Transition(t *domain.Ticket, applied bool, evts []events.Event) TransitionResponse {
	types := make([]string, 0, len(evts))
	for _, evt := range evts {
		types = append(types, string(evt.Type))
	}
	return TransitionResponse{Ticket: Ticket(t), Applied: applied, Events: types}
}

// Message converts a thread entry.
func Message(m *domain.TicketMessage) TicketMessageResponse {
	attachments := m.AttachmentIDs
	if attachments == nil {
		attachments = []string{}
	}
	return TicketMessageResponse{
		ID:            m.ID,
		AuthorType:    m.AuthorType,
		AuthorID:      m.AuthorID,
		Body:          m.Body,
		IsInternal:    m.IsInternal,
		AttachmentIDs: attachments,
		CreatedAt:     m.CreatedAt,
	}
}

// Messages converts a thread.
func Messages(list []domain.TicketMessage) []TicketMessageResponse {
	out := make([]TicketMessageResponse, 0, len(list))
	for i := range list {
		out = append(out, Message(&list[i]))
	}
	return out
}

// Escalations converts the audit trail.
func Escalations(list []domain.EscalationEvent) []EscalationResponse {
	out := make([]EscalationResponse, 0, len(list))
	for _, e := range list {
		out = append(out, EscalationResponse{
			ID:          e.ID,
			FromLevel:   e.FromLevel,
			ToLevel:     e.ToLevel,
			TriggeredBy: e.TriggeredBy,
			ActorID:     e.ActorID,
			Reason:      e.Reason,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}
