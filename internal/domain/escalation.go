package domain

import "time"

// EscalationTrigger records what caused an escalation.
type EscalationTrigger string

const (
	TriggerSLABreach EscalationTrigger = "SLA_BREACH"
	TriggerManual    EscalationTrigger = "MANUAL"
)

// EscalationEvent is an append-only audit record of a level change.
type EscalationEvent struct {
	ID          string
	TicketID    string
	FromLevel   EscalationLevel
	ToLevel     EscalationLevel
	TriggeredBy EscalationTrigger
	ActorID     string
	Reason      string
	Timestamp   time.Time
}
