package events

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated        EventType = "ticket_created"
	EventTicketStatusChanged  EventType = "ticket_status_changed"
	EventTicketAssigned       EventType = "ticket_assigned"
	EventTicketMessageAdded   EventType = "ticket_message_added"
	EventTicketEscalated      EventType = "ticket_escalated"
	EventMaxEscalationReached EventType = "max_escalation_reached"
	EventDuplicateLinked      EventType = "duplicate_linked"
	EventDuplicateUnlinked    EventType = "duplicate_unlinked"
)

// AllEventTypes lists every type the core emits.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketMessageAdded,
	EventTicketEscalated,
	EventMaxEscalationReached,
	EventDuplicateLinked,
	EventDuplicateUnlinked,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID     string `json:"id"`
	System bool   `json:"system,omitempty"`
}

// ActorFor converts a principal into event actor metadata.
func ActorFor(p domain.Principal) Actor {
	return Actor{ID: p.UserID, System: p.System}
}

// Event represents a domain event emitted by services. Delivery is
// at-least-once; consumers deduplicate on DedupeKey.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	TicketID     string      `json:"ticket_id"`
	TicketNumber string      `json:"ticket_number"`
	Actor        Actor       `json:"actor"`
	Timestamp    time.Time   `json:"timestamp"`
	DedupeKey    string      `json:"dedupe_key"`
	Payload      interface{} `json:"payload"`
}

// DedupeKey digests (ticketID, eventType, timestamp).
func DedupeKey(ticketID string, eventType EventType, ts time.Time) string {
	sum := blake2b.Sum256([]byte(ticketID + "|" + string(eventType) + "|" + ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:16])
}

// Seal fills the dedupe key from the event's identity fields.
func (e *Event) Seal() {
	e.DedupeKey = DedupeKey(e.TicketID, e.Type, e.Timestamp)
}

// Stamp binds events built before their ticket was stored to the ticket's
// assigned identity and reseals them.
func Stamp(evts []Event, ticketID, ticketNumber string) {
	for i := range evts {
		evts[i].TicketID = ticketID
		evts[i].TicketNumber = ticketNumber
		evts[i].Seal()
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Scope    domain.Scope          `json:"scope"`
	Category domain.TicketCategory `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
	Urgency  domain.Urgency        `json:"urgency"`
	Title    string                `json:"title"`
	Deadline *time.Time            `json:"deadline,omitempty"`
	// DetectorSkipped is set when intake ran without duplicate checking.
	DetectorSkipped bool `json:"detector_skipped,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Deadline  *time.Time          `json:"deadline,omitempty"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldAssigneeID *string `json:"old_assignee_id,omitempty"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    string                   `json:"author_id"`
	IsInternal  bool                     `json:"is_internal"`
	BodyPreview string                   `json:"body_preview"`
}

// TicketEscalatedPayload mirrors the escalation audit record.
type TicketEscalatedPayload struct {
	FromLevel   domain.EscalationLevel   `json:"from_level"`
	ToLevel     domain.EscalationLevel   `json:"to_level"`
	TriggeredBy domain.EscalationTrigger `json:"triggered_by"`
	Reason      string                   `json:"reason"`
	Deadline    *time.Time               `json:"deadline,omitempty"`
}

// MaxEscalationReachedPayload is informational: the ticket needs manual
// intervention.
type MaxEscalationReachedPayload struct {
	Level       domain.EscalationLevel   `json:"level"`
	Status      domain.TicketStatus      `json:"status"`
	TriggeredBy domain.EscalationTrigger `json:"triggered_by"`
	Reason      string                   `json:"reason"`
}

// DuplicateLinkedPayload payload.
type DuplicateLinkedPayload struct {
	ParentTicketID     string  `json:"parent_ticket_id"`
	ParentTicketNumber string  `json:"parent_ticket_number"`
	Similarity         float64 `json:"similarity"`
}

// DuplicateUnlinkedPayload payload.
type DuplicateUnlinkedPayload struct {
	ParentTicketID string     `json:"parent_ticket_id"`
	Deadline       *time.Time `json:"deadline,omitempty"`
}
