package dto

import (
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	DepartmentID string                `json:"department_id"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Priority     domain.TicketPriority `json:"priority"`
	Category     domain.TicketCategory `json:"category"`
}

// TransitionRequest moves a ticket to a new status.
type TransitionRequest struct {
	Status  domain.TicketStatus `json:"status"`
	Comment string              `json:"comment"`
}

// EscalateRequest payload for manual escalation.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                string                 `json:"id"`
	Number            string                 `json:"number"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	Status            domain.TicketStatus    `json:"status"`
	Priority          domain.TicketPriority  `json:"priority"`
	Urgency           domain.Urgency         `json:"urgency"`
	Category          domain.TicketCategory  `json:"category"`
	Scope             domain.Scope           `json:"scope"`
	CreatorID         string                 `json:"creator_id"`
	AssigneeID        *string                `json:"assignee_id"`
	Level             domain.EscalationLevel `json:"escalation_level"`
	LevelName         string                 `json:"escalation_level_name"`
	Deadline          *time.Time             `json:"deadline"`
	ResolvedAt        *time.Time             `json:"resolved_at,omitempty"`
	LinkedDuplicateOf *string                `json:"linked_duplicate_of,omitempty"`
	Version           int64                  `json:"version"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// DuplicateResponse describes the ticket a submission was linked to.
type DuplicateResponse struct {
	TicketID     string  `json:"ticket_id"`
	TicketNumber string  `json:"ticket_number"`
	Similarity   float64 `json:"similarity"`
}

// CreateTicketResponse reports how intake handled the submission.
type CreateTicketResponse struct {
	Ticket          TicketResponse     `json:"ticket"`
	Duplicate       *DuplicateResponse `json:"duplicate,omitempty"`
	DetectorSkipped bool               `json:"detector_skipped,omitempty"`
}

// TransitionResponse is the committed ticket plus emitted event types.
type TransitionResponse struct {
	Ticket  TicketResponse `json:"ticket"`
	Applied bool           `json:"applied"`
	Events  []string       `json:"events"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID            string                   `json:"id"`
	AuthorType    domain.MessageAuthorType `json:"author_type"`
	AuthorID      string                   `json:"author_id"`
	Body          string                   `json:"body"`
	IsInternal    bool                     `json:"is_internal"`
	AttachmentIDs []string                 `json:"attachment_ids"`
	CreatedAt     time.Time                `json:"created_at"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body          string   `json:"body"`
	Internal      bool     `json:"internal"`
	AttachmentIDs []string `json:"attachment_ids"`
}

// EscalationResponse is one audit record.
type EscalationResponse struct {
	ID          string                   `json:"id"`
	FromLevel   domain.EscalationLevel   `json:"from_level"`
	ToLevel     domain.EscalationLevel   `json:"to_level"`
	TriggeredBy domain.EscalationTrigger `json:"triggered_by"`
	ActorID     string                   `json:"actor_id"`
	Reason      string                   `json:"reason"`
	Timestamp   time.Time                `json:"timestamp"`
}
