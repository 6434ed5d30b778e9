package domain

import (
	"fmt"
	"time"
)

// TicketNumberPrefix prefixes every human-facing ticket number.
const TicketNumberPrefix = "TKT"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "OPEN"
	TicketStatusInProgress  TicketStatus = "IN_PROGRESS"
	TicketStatusPendingInfo TicketStatus = "PENDING_INFO"
	TicketStatusEscalated   TicketStatus = "ESCALATED"
	TicketStatusResolved    TicketStatus = "RESOLVED"
	TicketStatusClosed      TicketStatus = "CLOSED"
	TicketStatusRejected    TicketStatus = "REJECTED"
)

// ActiveStatuses are the states in which an SLA clock runs.
var ActiveStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusPendingInfo,
	TicketStatusEscalated,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPendingInfo, TicketStatusEscalated,
		TicketStatusResolved, TicketStatusClosed, TicketStatusRejected:
		return true
	}
	return false
}

// Active reports whether the status carries a running SLA deadline.
func (s TicketStatus) Active() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPendingInfo, TicketStatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave the status.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// TicketPriority is the intake priority chosen by the requester or triage.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// Urgency is the escalation-urgency tier the SLA table is keyed on. It is
// tracked separately from intake priority.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

// Valid reports whether u is a known urgency tier.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// UrgencyFor maps an intake priority onto the SLA urgency tier.
func UrgencyFor(p TicketPriority) Urgency {
	switch p {
	case TicketPriorityCritical:
		return UrgencyUrgent
	case TicketPriorityHigh:
		return UrgencyHigh
	case TicketPriorityLow:
		return UrgencyLow
	default:
		return UrgencyMedium
	}
}

// TicketCategory groups tickets by the service they concern.
type TicketCategory string

const (
	CategoryTransport      TicketCategory = "TRANSPORT"
	CategoryHostel         TicketCategory = "HOSTEL"
	CategoryAcademic       TicketCategory = "ACADEMIC"
	CategoryAdministrative TicketCategory = "ADMINISTRATIVE"
	CategoryOther          TicketCategory = "OTHER"
)

// Valid reports whether c is a known category.
func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryTransport, CategoryHostel, CategoryAcademic, CategoryAdministrative, CategoryOther:
		return true
	}
	return false
}

// EscalationLevel is the ticket's position in the authority chain.
type EscalationLevel int

const (
	LevelDepartment EscalationLevel = 0
	LevelCollege    EscalationLevel = 1
	LevelCampus     EscalationLevel = 2
	LevelSystem     EscalationLevel = 3

	MaxEscalationLevel = LevelSystem
)

func (l EscalationLevel) String() string {
	switch l {
	case LevelDepartment:
		return "department"
	case LevelCollege:
		return "college"
	case LevelCampus:
		return "campus"
	case LevelSystem:
		return "system"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Ticket is the aggregate for helpdesk requests.
type Ticket struct {
	ID                string
	Number            string
	Title             string
	Description       string
	Status            TicketStatus
	Priority          TicketPriority
	Urgency           Urgency
	Category          TicketCategory
	Scope             Scope
	CreatorID         string
	AssigneeID        *string
	Level             EscalationLevel
	Deadline          *time.Time
	ResolvedAt        *time.Time
	LinkedDuplicateOf *string
	// MaxEscalationNotifiedAt is set once the terminal level was reported
	// so the scheduler stops matching the ticket.
	MaxEscalationNotifiedAt *time.Time
	Version                 int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// FormatTicketNumber renders a sequence value as a ticket number.
func FormatTicketNumber(seq int64) string {
	return fmt.Sprintf("%s-%06d", TicketNumberPrefix, seq)
}

// IsLinkedDuplicate reports whether the ticket points at a parent ticket.
func (t *Ticket) IsLinkedDuplicate() bool {
	return t.LinkedDuplicateOf != nil
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssigneeID = cloneString(t.AssigneeID)
	cp.LinkedDuplicateOf = cloneString(t.LinkedDuplicateOf)
	cp.Deadline = cloneTime(t.Deadline)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	cp.MaxEscalationNotifiedAt = cloneTime(t.MaxEscalationNotifiedAt)
	return &cp
}

// CheckInvariants verifies the deadline/status and level invariants.
func (t *Ticket) CheckInvariants() error {
	if t.Level < LevelDepartment || t.Level > MaxEscalationLevel {
		return fmt.Errorf("ticket %s: escalation level %d out of range", t.Number, t.Level)
	}
	if t.IsLinkedDuplicate() {
		if t.Deadline != nil {
			return fmt.Errorf("ticket %s: linked duplicate carries a deadline", t.Number)
		}
		return nil
	}
	if t.Status.Active() && t.Deadline == nil {
		return fmt.Errorf("ticket %s: active status %s without deadline", t.Number, t.Status)
	}
	if !t.Status.Active() && t.Deadline != nil {
		return fmt.Errorf("ticket %s: status %s with deadline", t.Number, t.Status)
	}
	return nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
