package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

func (h *harness) scheduler(lease Lease) *EscalationScheduler {
	return NewEscalationScheduler(SchedulerDependencies{
		TicketRepo:   h.store.Tickets(),
		StateMachine: h.machine,
		Clock:        h.clock,
		Lease:        lease,
	})
}

// overdue puts the ticket at level in status with a deadline five minutes ago.
func (h *harness) overdue(t *testing.T, id string, status domain.TicketStatus, level domain.EscalationLevel) {
	t.Helper()
	h.force(t, id, func(cur *domain.Ticket) {
		deadline := h.clock.Now().Add(-5 * time.Minute)
		cur.Status = status
		cur.Level = level
		cur.Deadline = &deadline
	})
}

func TestSchedulerEscalatesExpiredTicket(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityHigh)
	h.overdue(t, ticket.ID, domain.TicketStatusInProgress, domain.LevelCollege)

	report, err := h.scheduler(nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Expired != 1 || report.Escalated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got := h.get(t, ticket.ID)
	if got.Level != domain.LevelCampus || got.Status != domain.TicketStatusEscalated {
		t.Fatalf("expected ESCALATED at level 2, got %s at %d", got.Status, got.Level)
	}
	if got.Deadline == nil || !got.Deadline.Equal(h.clock.Now().Add(SLAHigh)) {
		t.Fatalf("expected deadline now+12h, got %v", got.Deadline)
	}

	escalated := h.recorder.OfType(events.EventTicketEscalated)
	if len(escalated) != 1 {
		t.Fatalf("expected one TicketEscalated event, got %d", len(escalated))
	}
	payload := escalated[0].Payload.(events.TicketEscalatedPayload)
	if payload.TriggeredBy != domain.TriggerSLABreach || payload.FromLevel != 1 || payload.ToLevel != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !escalated[0].Actor.System {
		t.Fatalf("SLA escalation must be attributed to the system")
	}

	history, _ := h.store.Escalations().ListByTicket(context.Background(), ticket.ID)
	if len(history) != 1 || history[0].ActorID != domain.SystemActorID || history[0].Reason != SLABreachReason {
		t.Fatalf("unexpected escalation history %+v", history)
	}

	// the new deadline is in the future, so a second pass finds nothing
	report, err = h.scheduler(nil).RunOnce(context.Background())
	if err != nil || report.Expired != 0 {
		t.Fatalf("second pass should be empty, got %+v err=%v", report, err)
	}
}

func TestSchedulerTerminalLevel(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.overdue(t, ticket.ID, domain.TicketStatusEscalated, domain.LevelSystem)

	report, err := h.scheduler(nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.MaxReached != 1 || report.Escalated != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	got := h.get(t, ticket.ID)
	if got.Level != domain.LevelSystem || got.Status != domain.TicketStatusEscalated {
		t.Fatalf("terminal ticket changed: %s at %d", got.Status, got.Level)
	}
	if got.MaxEscalationNotifiedAt == nil {
		t.Fatalf("terminal notification should be recorded")
	}
	if n := len(h.recorder.OfType(events.EventMaxEscalationReached)); n != 1 {
		t.Fatalf("expected one MaxEscalationReached, got %d", n)
	}

	h.clock.Advance(time.Hour)
	report, _ = h.scheduler(nil).RunOnce(context.Background())
	if report.Expired != 0 {
		t.Fatalf("notified ticket should not be rescanned, got %+v", report)
	}
	if n := len(h.recorder.OfType(events.EventMaxEscalationReached)); n != 1 {
		t.Fatalf("MaxEscalationReached repeated: %d", n)
	}
}

func TestSchedulerIgnoresFutureDeadlines(t *testing.T) {
	h := newHarness(t)
	h.createTicket(t, scopeD1, domain.TicketPriorityCritical)

	h.clock.Advance(SLAUrgent - time.Second)
	report, err := h.scheduler(nil).RunOnce(context.Background())
	if err != nil || report.Expired != 0 {
		t.Fatalf("nothing is due yet, got %+v err=%v", report, err)
	}

	h.clock.Advance(time.Second)
	report, err = h.scheduler(nil).RunOnce(context.Background())
	if err != nil || report.Escalated != 1 {
		t.Fatalf("deadline equal to now is due, got %+v err=%v", report, err)
	}
}

func TestSLAEscalationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	system := domain.SystemPrincipal()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.overdue(t, ticket.ID, domain.TicketStatusInProgress, domain.LevelDepartment)

	first, err := h.machine.Escalate(ctx, system, ticket.ID, domain.TriggerSLABreach, "")
	if err != nil || !first.Applied {
		t.Fatalf("first escalation should apply, err=%v", err)
	}
	second, err := h.machine.Escalate(ctx, system, ticket.ID, domain.TriggerSLABreach, "")
	if err != nil || second.Applied || len(second.Events) != 0 {
		t.Fatalf("repeat report must be a no-op, err=%v", err)
	}
	if got := h.get(t, ticket.ID); got.Level != domain.LevelCollege {
		t.Fatalf("level should be 1, got %d", got.Level)
	}

	// resolved between scan and escalation
	resolved := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.force(t, resolved.ID, func(cur *domain.Ticket) {
		at := h.clock.Now()
		cur.Status = domain.TicketStatusResolved
		cur.Deadline = nil
		cur.ResolvedAt = &at
	})
	res, err := h.machine.Escalate(ctx, system, resolved.ID, domain.TriggerSLABreach, "")
	if err != nil || res.Applied {
		t.Fatalf("resolved ticket must not escalate, err=%v", err)
	}
}

// failingGets fails reads of a single ticket.
type failingGets struct {
	repository.TicketRepository
	failID string
}

func (f failingGets) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if id == f.failID {
		return nil, errors.New("connection reset by peer")
	}
	return f.TicketRepository.GetByID(ctx, id)
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	broken := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	healthy := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.overdue(t, broken.ID, domain.TicketStatusOpen, domain.LevelDepartment)
	h.overdue(t, healthy.ID, domain.TicketStatusOpen, domain.LevelDepartment)

	scheduler := NewEscalationScheduler(SchedulerDependencies{
		TicketRepo:   h.store.Tickets(),
		StateMachine: h.newMachine(failingGets{TicketRepository: h.store.Tickets(), failID: broken.ID}),
		Clock:        h.clock,
	})
	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.Failed != 1 || report.Escalated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := h.get(t, healthy.ID); got.Level != domain.LevelCollege {
		t.Fatalf("healthy ticket should escalate, got level %d", got.Level)
	}
	if got := h.get(t, broken.ID); got.Level != domain.LevelDepartment {
		t.Fatalf("broken ticket should be untouched, got level %d", got.Level)
	}
}

func TestSchedulerSkipsLinkedDuplicates(t *testing.T) {
	h := newHarness(t)
	parent := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	child := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.force(t, child.ID, func(cur *domain.Ticket) {
		past := h.clock.Now().Add(-time.Hour)
		cur.LinkedDuplicateOf = &parent.ID
		cur.Deadline = &past
	})

	report, err := h.scheduler(nil).RunOnce(context.Background())
	if err != nil || report.Expired != 0 {
		t.Fatalf("linked duplicates are never escalated, got %+v err=%v", report, err)
	}
}

type fakeLease struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *fakeLease) Acquire(context.Context, time.Duration) (bool, error) {
	l.acquired++
	return l.held, l.err
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

func TestSchedulerLease(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.overdue(t, ticket.ID, domain.TicketStatusOpen, domain.LevelDepartment)

	elsewhere := &fakeLease{held: false}
	report, err := h.scheduler(elsewhere).RunOnce(context.Background())
	if err != nil || !report.LeaseHeldElsewhere || report.Expired != 0 {
		t.Fatalf("scan should defer to the lease holder, got %+v err=%v", report, err)
	}

	unavailable := &fakeLease{err: errors.New("redis down")}
	report, err = h.scheduler(unavailable).RunOnce(context.Background())
	if err != nil || report.Escalated != 1 {
		t.Fatalf("lease errors must not stop escalation, got %+v err=%v", report, err)
	}
}

func TestSchedulerRunStopsAndReleasesLease(t *testing.T) {
	h := newHarness(t)
	lease := &fakeLease{held: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.scheduler(lease).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if lease.acquired != 1 || lease.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", lease.acquired, lease.released)
	}
}
