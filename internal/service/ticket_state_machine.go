package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

const (
	// DefaultReopenWindow is how long after resolution a ticket may be reopened.
	DefaultReopenWindow = 7 * 24 * time.Hour
	// SLABreachReason is recorded on scheduler-triggered escalations.
	SLABreachReason = "SLA breach"

	titleMaxLength       = 200
	descriptionMaxLength = 5000
)

// systemOnly marks table entries only the platform actor may take.
const systemOnly = ""

// transitionTable lists non-escalation transitions and the capability each
// requires. Escalation has its own path.
var transitionTable = map[domain.TicketStatus]map[domain.TicketStatus]string{
	domain.TicketStatusOpen: {
		domain.TicketStatusInProgress:  domain.CapTicketUpdate,
		domain.TicketStatusPendingInfo: domain.CapTicketUpdate,
		domain.TicketStatusRejected:    domain.CapTicketResolve,
	},
	domain.TicketStatusInProgress: {
		domain.TicketStatusPendingInfo: domain.CapTicketUpdate,
		domain.TicketStatusResolved:    domain.CapTicketResolve,
	},
	domain.TicketStatusPendingInfo: {
		domain.TicketStatusInProgress: systemOnly,
	},
	domain.TicketStatusEscalated: {
		domain.TicketStatusInProgress: domain.CapTicketAssign,
		domain.TicketStatusResolved:   domain.CapTicketResolve,
	},
	domain.TicketStatusResolved: {
		domain.TicketStatusClosed:     domain.CapTicketClose,
		domain.TicketStatusInProgress: domain.CapTicketReopen,
	},
}

// targetCapability guards moves into a status when the pair is not in the
// table or is reserved to the system, so the permission check always runs
// before the table check.
var targetCapability = map[domain.TicketStatus]string{
	domain.TicketStatusOpen:        domain.CapTicketUpdate,
	domain.TicketStatusInProgress:  domain.CapTicketUpdate,
	domain.TicketStatusPendingInfo: domain.CapTicketUpdate,
	domain.TicketStatusResolved:    domain.CapTicketResolve,
	domain.TicketStatusClosed:      domain.CapTicketClose,
	domain.TicketStatusRejected:    domain.CapTicketResolve,
}

// capabilityFor returns the capability checked for from→to and whether the
// pair is listed in the transition table.
func capabilityFor(from, to domain.TicketStatus) (string, bool) {
	capability, ok := transitionTable[from][to]
	if !ok || capability == systemOnly {
		return targetCapability[to], ok
	}
	return capability, true
}

// errLinkTargetGone means the duplicate parent left the active pool between
// detection and creation.
var errLinkTargetGone = errors.New("duplicate parent no longer linkable")

// TicketStateMachine is the only writer of ticket state. Every mutation runs
// under a per-ticket lock and commits through a version compare-and-swap,
// together with its events in the outbox.
type TicketStateMachine struct {
	tickets      repository.TicketRepository
	outbox       repository.OutboxRepository
	permissions  *auth.PermissionModel
	sla          *SlaPolicy
	clock        clock.Clock
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	metrics      *observability.Metrics
	locks        *ticketLocks
	reopenWindow time.Duration
}

// StateMachineDependencies bundles collaborators of the state machine.
type StateMachineDependencies struct {
	TicketRepo   repository.TicketRepository
	// Outbox receives events that are not written with a ticket update.
	Outbox       repository.OutboxRepository
	Permissions  *auth.PermissionModel
	SLA          *SlaPolicy
	Clock        clock.Clock
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	ReopenWindow time.Duration
}

// NewTicketStateMachine constructs the state machine, filling unset
// collaborators with defaults.
func NewTicketStateMachine(deps StateMachineDependencies) *TicketStateMachine {
	m := &TicketStateMachine{
		tickets:      deps.TicketRepo,
		outbox:       deps.Outbox,
		permissions:  deps.Permissions,
		sla:          deps.SLA,
		clock:        deps.Clock,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		locks:        newTicketLocks(),
		reopenWindow: deps.ReopenWindow,
	}
	if m.permissions == nil {
		m.permissions = auth.NewPermissionModel()
	}
	if m.sla == nil {
		m.sla = NewSlaPolicy()
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.reopenWindow <= 0 {
		m.reopenWindow = DefaultReopenWindow
	}
	return m
}

// TransitionResult is the committed ticket plus the events published for it.
// Applied is false when the call was an idempotent no-op.
type TransitionResult struct {
	Ticket  *domain.Ticket
	Events  []events.Event
	Applied bool
}

// NewTicket is the validated input for ticket creation.
type NewTicket struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
	Scope       domain.Scope
	CreatorID   string
	// DetectorSkipped is reported on the created event when intake could
	// not run duplicate detection.
	DetectorSkipped bool
}

// change is what a mutation callback decided.
type change struct {
	next        *domain.Ticket
	escalations []domain.EscalationEvent
	events      []events.Event
	persist     bool
	applied     bool
	mirror      bool
}

func noop(current *domain.Ticket) *change {
	return &change{next: current}
}

// Create persists a fresh OPEN ticket at level 0 with an SLA deadline.
func (m *TicketStateMachine) Create(ctx context.Context, actor domain.Principal, in NewTicket, embedding *domain.Embedding) (*TransitionResult, error) {
	if err := validateNewTicket(&in); err != nil {
		return nil, err
	}
	if err := m.permissions.Authorize(actor, domain.CapTicketCreate, in.Scope); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	ticket := m.buildTicket(in, now)
	m.applyStatus(ticket, domain.TicketStatusOpen, now)

	evts := []events.Event{m.event(ticket, events.EventTicketCreated, actor, now, events.TicketCreatedPayload{
		Scope:           ticket.Scope,
		Category:        ticket.Category,
		Priority:        ticket.Priority,
		Urgency:         ticket.Urgency,
		Title:           ticket.Title,
		Deadline:        ticket.Deadline,
		DetectorSkipped: in.DetectorSkipped,
	})}
	if err := m.tickets.Create(ctx, ticket, embedding, evts); err != nil {
		return nil, apperrors.MapError(err)
	}
	m.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.Number),
		zap.String("scope", ticket.Scope.String()),
		zap.Timep("deadline", ticket.Deadline))
	m.publish(ctx, evts)
	return &TransitionResult{Ticket: ticket, Events: evts, Applied: true}, nil
}

// CreateLinked persists a ticket pre-linked to parentID. The new ticket
// mirrors the parent's status and carries no deadline of its own.
func (m *TicketStateMachine) CreateLinked(ctx context.Context, actor domain.Principal, in NewTicket, embedding *domain.Embedding, parentID string, similarity float64) (*TransitionResult, error) {
	if err := validateNewTicket(&in); err != nil {
		return nil, err
	}
	if err := m.permissions.Authorize(actor, domain.CapTicketCreate, in.Scope); err != nil {
		return nil, err
	}

	// holding the parent's lock keeps its status stable until the child is
	// stored, so a concurrent parent transition mirrors onto the child
	release := m.locks.Lock(parentID)
	defer release()

	parent, err := m.tickets.GetByID(ctx, parentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errLinkTargetGone
		}
		return nil, apperrors.MapError(err)
	}
	if parent.IsLinkedDuplicate() || !parent.Status.Active() || parent.Scope.DepartmentID != in.Scope.DepartmentID {
		return nil, errLinkTargetGone
	}

	now := m.clock.Now()
	ticket := m.buildTicket(in, now)
	ticket.Status = parent.Status
	ticket.LinkedDuplicateOf = &parent.ID

	evts := []events.Event{
		m.event(ticket, events.EventTicketCreated, actor, now, events.TicketCreatedPayload{
			Scope:    ticket.Scope,
			Category: ticket.Category,
			Priority: ticket.Priority,
			Urgency:  ticket.Urgency,
			Title:    ticket.Title,
		}),
		m.event(ticket, events.EventDuplicateLinked, actor, now, events.DuplicateLinkedPayload{
			ParentTicketID:     parent.ID,
			ParentTicketNumber: parent.Number,
			Similarity:         similarity,
		}),
	}
	if err := m.tickets.Create(ctx, ticket, embedding, evts); err != nil {
		return nil, apperrors.MapError(err)
	}
	m.metrics.RecordDuplicateLinked()
	m.logger.Info("ticket linked as duplicate",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.Number),
		zap.String("parent_ticket_number", parent.Number),
		zap.Float64("similarity", similarity))
	m.publish(ctx, evts)
	return &TransitionResult{Ticket: ticket, Events: evts, Applied: true}, nil
}

// Transition moves a ticket to target. ESCALATED is routed to Escalate with
// a manual trigger.
func (m *TicketStateMachine) Transition(ctx context.Context, actor domain.Principal, ticketID string, target domain.TicketStatus, comment string) (*TransitionResult, error) {
	if !target.Valid() {
		return nil, apperrors.NewValidationError("unknown target status", map[string]any{"status": target})
	}
	if target == domain.TicketStatusEscalated {
		return m.Escalate(ctx, actor, ticketID, domain.TriggerManual, comment)
	}
	return m.transition(ctx, actor, ticketID, target, nil, comment)
}

func (m *TicketStateMachine) transition(ctx context.Context, actor domain.Principal, ticketID string, target domain.TicketStatus, assigneeID *string, comment string) (*TransitionResult, error) {
	return m.mutate(ctx, ticketID, func(cur *domain.Ticket, now time.Time) (*change, error) {
		capability, listed := capabilityFor(cur.Status, target)
		if err := m.permissions.Authorize(actor, capability, cur.Scope); err != nil {
			return nil, err
		}
		if cur.IsLinkedDuplicate() {
			return nil, apperrors.NewInvalidTransition("ticket is linked as a duplicate; unlink it first", transitionDetails(cur, target))
		}
		if !listed || (transitionTable[cur.Status][target] == systemOnly && !actor.System) {
			return nil, invalidTransition(cur, target)
		}

		reopening := cur.Status == domain.TicketStatusResolved && target == domain.TicketStatusInProgress
		if reopening && cur.ResolvedAt != nil && now.Sub(*cur.ResolvedAt) > m.reopenWindow {
			details := transitionDetails(cur, target)
			details["resolved_at"] = cur.ResolvedAt
			details["reopen_window"] = m.reopenWindow.String()
			return nil, apperrors.NewTransitionExpired("reopen window has elapsed", details)
		}

		next := cur.Clone()
		m.applyStatus(next, target, now)
		if reopening {
			next.ResolvedAt = nil
		}
		switch {
		case assigneeID != nil:
			next.AssigneeID = assigneeID
		case target == domain.TicketStatusInProgress && next.AssigneeID == nil && !actor.System && !reopening:
			next.AssigneeID = &actor.UserID
		}

		evts := []events.Event{m.statusEvent(cur, next, actor, now, comment)}
		if !sameAssignee(cur.AssigneeID, next.AssigneeID) {
			evts = append(evts, m.event(next, events.EventTicketAssigned, actor, now, events.TicketAssignedPayload{
				OldAssigneeID: cur.AssigneeID,
				AssigneeID:    next.AssigneeID,
			}))
		}
		return &change{next: next, events: evts, persist: true, applied: true, mirror: true}, nil
	})
}

// Escalate raises the ticket one level. Manual escalation requires
// ticket:escalate and an IN_PROGRESS or PENDING_INFO ticket. SLA escalation
// is reserved to the system actor and re-checks that the deadline really
// elapsed, so repeated scheduler reports are no-ops. At the terminal level
// nothing changes and MaxEscalationReached is emitted instead.
func (m *TicketStateMachine) Escalate(ctx context.Context, actor domain.Principal, ticketID string, trigger domain.EscalationTrigger, reason string) (*TransitionResult, error) {
	switch trigger {
	case domain.TriggerSLABreach:
		if !actor.System {
			return nil, apperrors.NewUnauthorized(domain.CapTicketEscalate, map[string]any{"trigger": trigger})
		}
		if reason == "" {
			reason = SLABreachReason
		}
	case domain.TriggerManual:
		if reason == "" {
			reason = "manual escalation"
		}
	default:
		return nil, apperrors.NewValidationError("unknown escalation trigger", map[string]any{"trigger": trigger})
	}

	return m.mutate(ctx, ticketID, func(cur *domain.Ticket, now time.Time) (*change, error) {
		if trigger == domain.TriggerSLABreach {
			if cur.IsLinkedDuplicate() || !cur.Status.Active() || cur.Deadline == nil ||
				cur.Deadline.After(now) || cur.MaxEscalationNotifiedAt != nil {
				return noop(cur), nil
			}
		} else {
			if err := m.permissions.Authorize(actor, domain.CapTicketEscalate, cur.Scope); err != nil {
				return nil, err
			}
			if cur.IsLinkedDuplicate() {
				return nil, apperrors.NewInvalidTransition("ticket is linked as a duplicate; unlink it first", transitionDetails(cur, domain.TicketStatusEscalated))
			}
			if cur.Status != domain.TicketStatusInProgress && cur.Status != domain.TicketStatusPendingInfo {
				return nil, invalidTransition(cur, domain.TicketStatusEscalated)
			}
		}

		if cur.Level >= domain.MaxEscalationLevel {
			m.metrics.RecordMaxEscalation(string(trigger))
			m.logger.Warn("terminal escalation reached",
				zap.String("ticket_id", cur.ID),
				zap.String("ticket_number", cur.Number),
				zap.String("trigger", string(trigger)))
			evt := m.event(cur, events.EventMaxEscalationReached, actor, now, events.MaxEscalationReachedPayload{
				Level:       cur.Level,
				Status:      cur.Status,
				TriggeredBy: trigger,
				Reason:      reason,
			})
			if trigger != domain.TriggerSLABreach {
				return &change{next: cur, events: []events.Event{evt}}, nil
			}
			// stop the scheduler from matching this ticket again
			next := cur.Clone()
			notified := now
			next.MaxEscalationNotifiedAt = &notified
			return &change{next: next, events: []events.Event{evt}, persist: true}, nil
		}

		next := cur.Clone()
		next.Level = cur.Level + 1
		next.AssigneeID = nil
		m.applyStatus(next, domain.TicketStatusEscalated, now)

		record := domain.EscalationEvent{
			TicketID:    cur.ID,
			FromLevel:   cur.Level,
			ToLevel:     next.Level,
			TriggeredBy: trigger,
			ActorID:     actor.UserID,
			Reason:      reason,
			Timestamp:   now,
		}
		evts := []events.Event{m.event(next, events.EventTicketEscalated, actor, now, events.TicketEscalatedPayload{
			FromLevel:   record.FromLevel,
			ToLevel:     record.ToLevel,
			TriggeredBy: trigger,
			Reason:      reason,
			Deadline:    next.Deadline,
		})}
		if cur.Status != next.Status {
			evts = append(evts, m.statusEvent(cur, next, actor, now, reason))
		}
		m.metrics.RecordEscalation(string(trigger), int(next.Level))
		return &change{
			next:        next,
			escalations: []domain.EscalationEvent{record},
			events:      evts,
			persist:     true,
			applied:     true,
			mirror:      cur.Status != next.Status,
		}, nil
	})
}

// Assign sets the assignee. On an ESCALATED ticket this is the
// ESCALATED → IN_PROGRESS re-assignment at the new level.
func (m *TicketStateMachine) Assign(ctx context.Context, actor domain.Principal, ticketID, assigneeID string) (*TransitionResult, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, apperrors.NewValidationError("assignee_id required", nil)
	}
	return m.mutate(ctx, ticketID, func(cur *domain.Ticket, now time.Time) (*change, error) {
		if err := m.permissions.Authorize(actor, domain.CapTicketAssign, cur.Scope); err != nil {
			return nil, err
		}
		if cur.IsLinkedDuplicate() {
			return nil, apperrors.NewInvalidTransition("ticket is linked as a duplicate; unlink it first", map[string]any{"ticket_number": cur.Number})
		}
		next := cur.Clone()
		switch cur.Status {
		case domain.TicketStatusEscalated:
			m.applyStatus(next, domain.TicketStatusInProgress, now)
		case domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusPendingInfo:
		default:
			return nil, apperrors.NewInvalidTransition("ticket cannot be assigned in its current status", map[string]any{
				"ticket_number": cur.Number,
				"status":        cur.Status,
			})
		}
		next.AssigneeID = &assigneeID

		var evts []events.Event
		if cur.Status != next.Status {
			evts = append(evts, m.statusEvent(cur, next, actor, now, "reassigned"))
		}
		evts = append(evts, m.event(next, events.EventTicketAssigned, actor, now, events.TicketAssignedPayload{
			OldAssigneeID: cur.AssigneeID,
			AssigneeID:    next.AssigneeID,
		}))
		return &change{next: next, events: evts, persist: true, applied: true, mirror: cur.Status != next.Status}, nil
	})
}

// Unlink turns a linked duplicate into an independent OPEN ticket with a
// fresh SLA clock. Duplicates that mirrored a terminal parent stay linked.
func (m *TicketStateMachine) Unlink(ctx context.Context, actor domain.Principal, ticketID string) (*TransitionResult, error) {
	return m.mutate(ctx, ticketID, func(cur *domain.Ticket, now time.Time) (*change, error) {
		if err := m.permissions.Authorize(actor, domain.CapTicketUpdate, cur.Scope); err != nil {
			return nil, err
		}
		if !cur.IsLinkedDuplicate() {
			return nil, apperrors.NewInvalidTransition("ticket is not linked as a duplicate", map[string]any{"ticket_number": cur.Number})
		}
		if cur.Status.Terminal() {
			return nil, apperrors.NewInvalidTransition("ticket is in a terminal status", map[string]any{
				"ticket_number": cur.Number,
				"status":        cur.Status,
			})
		}
		parentID := *cur.LinkedDuplicateOf
		next := cur.Clone()
		next.LinkedDuplicateOf = nil
		next.ResolvedAt = nil
		m.applyStatus(next, domain.TicketStatusOpen, now)

		evts := []events.Event{m.event(next, events.EventDuplicateUnlinked, actor, now, events.DuplicateUnlinkedPayload{
			ParentTicketID: parentID,
			Deadline:       next.Deadline,
		})}
		if cur.Status != next.Status {
			evts = append(evts, m.statusEvent(cur, next, actor, now, "unlinked"))
		}
		return &change{next: next, events: evts, persist: true, applied: true}, nil
	})
}

// ResumeOnRequesterReply moves a PENDING_INFO ticket back to IN_PROGRESS on
// behalf of the system. Any other state is left alone.
func (m *TicketStateMachine) ResumeOnRequesterReply(ctx context.Context, ticketID string) (*TransitionResult, error) {
	system := domain.SystemPrincipal()
	return m.mutate(ctx, ticketID, func(cur *domain.Ticket, now time.Time) (*change, error) {
		if cur.IsLinkedDuplicate() || cur.Status != domain.TicketStatusPendingInfo {
			return noop(cur), nil
		}
		next := cur.Clone()
		m.applyStatus(next, domain.TicketStatusInProgress, now)
		evts := []events.Event{m.statusEvent(cur, next, system, now, "requester replied")}
		return &change{next: next, events: evts, persist: true, applied: true, mirror: true}, nil
	})
}

// mutate runs fn against a fresh read of the ticket under its lock and
// commits the result with a compare-and-swap on the read version.
func (m *TicketStateMachine) mutate(ctx context.Context, ticketID string, fn func(cur *domain.Ticket, now time.Time) (*change, error)) (*TransitionResult, error) {
	release := m.locks.Lock(ticketID)
	current, err := m.tickets.GetByID(ctx, ticketID)
	if err != nil {
		release()
		return nil, m.mapRepoError(err, ticketID)
	}
	now := m.clock.Now()
	ch, err := fn(current, now)
	if err != nil {
		release()
		return nil, err
	}

	if ch.persist {
		ch.next.UpdatedAt = now
		if err := ch.next.CheckInvariants(); err != nil {
			release()
			return nil, apperrors.NewInternalError(err)
		}
		if err := m.tickets.Update(ctx, ch.next, current.Version, ch.escalations, ch.events); err != nil {
			release()
			return nil, m.mapRepoError(err, ticketID)
		}
	} else if len(ch.events) > 0 && m.outbox != nil {
		if err := m.outbox.Append(ctx, ch.events); err != nil {
			release()
			return nil, apperrors.MapError(err)
		}
	}
	release()

	if ch.applied && current.Status != ch.next.Status {
		m.metrics.RecordTransition(string(current.Status), string(ch.next.Status))
		m.logger.Info("ticket transition",
			zap.String("ticket_id", ch.next.ID),
			zap.String("ticket_number", ch.next.Number),
			zap.String("from", string(current.Status)),
			zap.String("to", string(ch.next.Status)),
			zap.Int("level", int(ch.next.Level)))
	}
	m.publish(ctx, ch.events)
	if ch.mirror && current.Status != ch.next.Status {
		m.mirrorDuplicates(ctx, ch.next)
	}
	return &TransitionResult{Ticket: ch.next, Events: ch.events, Applied: ch.applied}, nil
}

// mirrorDuplicates copies the parent's status onto its linked duplicates.
// Failures are logged; a later parent transition retries them.
func (m *TicketStateMachine) mirrorDuplicates(ctx context.Context, parent *domain.Ticket) {
	children, err := m.tickets.ListDuplicatesOf(ctx, parent.ID)
	if err != nil {
		m.logger.Warn("list duplicates failed", zap.String("ticket_id", parent.ID), zap.Error(err))
		return
	}
	system := domain.SystemPrincipal()
	for i := range children {
		childID := children[i].ID
		_, err := m.mutate(ctx, childID, func(cur *domain.Ticket, now time.Time) (*change, error) {
			if cur.LinkedDuplicateOf == nil || *cur.LinkedDuplicateOf != parent.ID || cur.Status == parent.Status {
				return noop(cur), nil
			}
			next := cur.Clone()
			next.Status = parent.Status
			next.Deadline = nil
			switch {
			case parent.Status == domain.TicketStatusResolved:
				resolved := now
				next.ResolvedAt = &resolved
			case parent.Status.Active():
				next.ResolvedAt = nil
			}
			evts := []events.Event{m.statusEvent(cur, next, system, now, "mirrored from "+parent.Number)}
			return &change{next: next, events: evts, persist: true, applied: true}, nil
		})
		if err != nil {
			m.logger.Warn("mirror duplicate status failed",
				zap.String("ticket_id", childID),
				zap.String("parent_ticket_number", parent.Number),
				zap.Error(err))
		}
	}
}

// applyStatus sets status and the deadline that goes with it.
func (m *TicketStateMachine) applyStatus(t *domain.Ticket, target domain.TicketStatus, now time.Time) {
	t.Status = target
	switch target {
	case domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusEscalated:
		deadline := m.sla.DeadlineFrom(now, t.Urgency)
		t.Deadline = &deadline
		t.MaxEscalationNotifiedAt = nil
	case domain.TicketStatusPendingInfo:
		// the SLA clock keeps running while waiting on the requester
		if t.Deadline == nil {
			deadline := m.sla.DeadlineFrom(now, t.Urgency)
			t.Deadline = &deadline
		}
	case domain.TicketStatusResolved:
		resolved := now
		t.Deadline = nil
		t.ResolvedAt = &resolved
	case domain.TicketStatusClosed, domain.TicketStatusRejected:
		t.Deadline = nil
	}
}

func (m *TicketStateMachine) buildTicket(in NewTicket, now time.Time) *domain.Ticket {
	return &domain.Ticket{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Urgency:     domain.UrgencyFor(in.Priority),
		Category:    in.Category,
		Scope:       in.Scope,
		CreatorID:   in.CreatorID,
		Level:       domain.LevelDepartment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *TicketStateMachine) statusEvent(cur, next *domain.Ticket, actor domain.Principal, now time.Time, comment string) events.Event {
	return m.event(next, events.EventTicketStatusChanged, actor, now, events.TicketStatusChangedPayload{
		OldStatus: cur.Status,
		NewStatus: next.Status,
		Deadline:  next.Deadline,
		Comment:   comment,
	})
}

func (m *TicketStateMachine) event(t *domain.Ticket, eventType events.EventType, actor domain.Principal, now time.Time, payload any) events.Event {
	evt := events.Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		Actor:        events.ActorFor(actor),
		Timestamp:    now,
		Payload:      payload,
	}
	evt.Seal()
	return evt
}

// publish hands committed events to in-process subscribers. External
// delivery goes through the outbox relay.
func (m *TicketStateMachine) publish(ctx context.Context, evts []events.Event) {
	if m.dispatcher == nil {
		return
	}
	for _, evt := range evts {
		if err := m.dispatcher.Publish(ctx, evt); err != nil {
			m.logger.Warn("event publish failed",
				zap.String("event_type", string(evt.Type)),
				zap.String("ticket_id", evt.TicketID),
				zap.Error(err))
		}
	}
}

func (m *TicketStateMachine) mapRepoError(err error, ticketID string) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		m.metrics.RecordConcurrentModification()
		return apperrors.NewConcurrentModification(map[string]any{"ticket_id": ticketID})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

func validateNewTicket(in *NewTicket) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Priority == "" {
		in.Priority = domain.TicketPriorityMedium
	}
	if in.Category == "" {
		in.Category = domain.CategoryOther
	}

	details := map[string]any{}
	if in.Title == "" || utf8.RuneCountInString(in.Title) > titleMaxLength {
		details["title"] = fmt.Sprintf("must be 1-%d characters", titleMaxLength)
	}
	if in.Description == "" || utf8.RuneCountInString(in.Description) > descriptionMaxLength {
		details["description"] = fmt.Sprintf("must be 1-%d characters", descriptionMaxLength)
	}
	if !in.Priority.Valid() {
		details["priority"] = "unknown priority"
	}
	if !in.Category.Valid() {
		details["category"] = "unknown category"
	}
	if in.Scope.Level() != domain.ScopeDepartment || in.Scope.Validate() != nil {
		details["scope"] = "a full campus/college/department scope is required"
	}
	if strings.TrimSpace(in.CreatorID) == "" {
		details["creator_id"] = "required"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket", details)
	}
	return nil
}

func invalidTransition(cur *domain.Ticket, target domain.TicketStatus) error {
	return apperrors.NewInvalidTransition(
		fmt.Sprintf("cannot move ticket from %s to %s", cur.Status, target),
		transitionDetails(cur, target))
}

func transitionDetails(cur *domain.Ticket, target domain.TicketStatus) map[string]any {
	return map[string]any{
		"ticket_number": cur.Number,
		"from":          cur.Status,
		"to":            target,
	}
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
