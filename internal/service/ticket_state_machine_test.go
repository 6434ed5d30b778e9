package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

func TestCreateOpensTicketWithDeadline(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityHigh)

	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("expected OPEN, got %s", ticket.Status)
	}
	if ticket.Level != domain.LevelDepartment {
		t.Fatalf("expected level 0, got %d", ticket.Level)
	}
	if ticket.Deadline == nil || !ticket.Deadline.Equal(testNow.Add(12*time.Hour)) {
		t.Fatalf("expected deadline now+12h, got %v", ticket.Deadline)
	}
	if ticket.Number != "TKT-000001" {
		t.Fatalf("unexpected number %s", ticket.Number)
	}
	created := h.recorder.OfType(events.EventTicketCreated)
	if len(created) != 1 || created[0].TicketID != ticket.ID {
		t.Fatalf("expected one TicketCreated event, got %v", eventTypes(h.recorder.Events()))
	}
	if created[0].DedupeKey == "" {
		t.Fatalf("event dedupe key not set")
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		in   NewTicket
	}{
		{"empty title", NewTicket{Title: "  ", Description: "d", Scope: scopeD1, CreatorID: "u"}},
		{"no description", NewTicket{Title: "t", Scope: scopeD1, CreatorID: "u"}},
		{"college scope", NewTicket{Title: "t", Description: "d", Scope: domain.Scope{CampusID: "C1", CollegeID: "CL1"}, CreatorID: "u"}},
		{"bad priority", NewTicket{Title: "t", Description: "d", Priority: "SOON", Scope: scopeD1, CreatorID: "u"}},
		{"no creator", NewTicket{Title: "t", Description: "d", Scope: scopeD1}},
	}
	for _, tc := range cases {
		_, err := h.machine.Create(context.Background(), h.student(t), tc.in, nil)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateRequiresCapability(t *testing.T) {
	h := newHarness(t)
	auditor := h.principal(t, "audit-1", scopeC1, "AUDITOR")
	_, err := h.machine.Create(context.Background(), auditor, NewTicket{
		Title: "t", Description: "d", Scope: scopeD1, CreatorID: "audit-1",
	}, nil)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    domain.TicketStatus
		to      domain.TicketStatus
		wantErr error
	}{
		{domain.TicketStatusOpen, domain.TicketStatusInProgress, nil},
		{domain.TicketStatusOpen, domain.TicketStatusPendingInfo, nil},
		{domain.TicketStatusOpen, domain.TicketStatusRejected, nil},
		{domain.TicketStatusOpen, domain.TicketStatusResolved, apperrors.ErrInvalidTransition},
		{domain.TicketStatusOpen, domain.TicketStatusClosed, apperrors.ErrInvalidTransition},
		{domain.TicketStatusOpen, domain.TicketStatusEscalated, apperrors.ErrInvalidTransition},
		{domain.TicketStatusInProgress, domain.TicketStatusPendingInfo, nil},
		{domain.TicketStatusInProgress, domain.TicketStatusResolved, nil},
		{domain.TicketStatusInProgress, domain.TicketStatusEscalated, nil},
		{domain.TicketStatusInProgress, domain.TicketStatusOpen, apperrors.ErrInvalidTransition},
		{domain.TicketStatusPendingInfo, domain.TicketStatusInProgress, apperrors.ErrInvalidTransition},
		{domain.TicketStatusPendingInfo, domain.TicketStatusEscalated, nil},
		{domain.TicketStatusEscalated, domain.TicketStatusInProgress, nil},
		{domain.TicketStatusEscalated, domain.TicketStatusResolved, nil},
		{domain.TicketStatusEscalated, domain.TicketStatusOpen, apperrors.ErrInvalidTransition},
		{domain.TicketStatusResolved, domain.TicketStatusClosed, nil},
		{domain.TicketStatusResolved, domain.TicketStatusInProgress, nil},
		{domain.TicketStatusResolved, domain.TicketStatusOpen, apperrors.ErrInvalidTransition},
		{domain.TicketStatusClosed, domain.TicketStatusInProgress, apperrors.ErrInvalidTransition},
		{domain.TicketStatusClosed, domain.TicketStatusOpen, apperrors.ErrInvalidTransition},
		{domain.TicketStatusRejected, domain.TicketStatusOpen, apperrors.ErrInvalidTransition},
	}

	for _, tc := range cases {
		h := newHarness(t)
		ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
		h.force(t, ticket.ID, func(cur *domain.Ticket) {
			cur.Status = tc.from
			cur.Deadline, cur.ResolvedAt = nil, nil
			switch {
			case tc.from.Active():
				deadline := testNow.Add(time.Hour)
				cur.Deadline = &deadline
			case tc.from == domain.TicketStatusResolved:
				resolved := testNow
				cur.ResolvedAt = &resolved
			}
		})

		res, err := h.machine.Transition(context.Background(), h.admin(t), ticket.ID, tc.to, "")
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.wantErr, err)
			}
			if got := h.get(t, ticket.ID); got.Status != tc.from {
				t.Fatalf("%s -> %s: rejected transition changed status to %s", tc.from, tc.to, got.Status)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		stored := h.get(t, ticket.ID)
		if stored.Status != tc.to || res.Ticket.Status != tc.to {
			t.Fatalf("%s -> %s: stored status %s", tc.from, tc.to, stored.Status)
		}
		if err := stored.CheckInvariants(); err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}
}

func TestTransitionUnknownTargetAndTicket(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	if _, err := h.machine.Transition(context.Background(), h.admin(t), ticket.ID, "DONE", ""); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.machine.Transition(context.Background(), h.admin(t), "missing", domain.TicketStatusInProgress, ""); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionRequiresCapabilityInScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	otherDept := h.principal(t, "staff-4", scopeD4, "DEPARTMENT_STAFF")
	if _, err := h.machine.Transition(ctx, otherDept, ticket.ID, domain.TicketStatusInProgress, ""); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for sibling department, got %v", err)
	}

	staff := h.staff(t)
	if _, err := h.machine.Transition(ctx, staff, ticket.ID, domain.TicketStatusInProgress, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.machine.Transition(ctx, staff, ticket.ID, domain.TicketStatusResolved, "fixed"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// staff may resolve but not close
	if _, err := h.machine.Transition(ctx, staff, ticket.ID, domain.TicketStatusClosed, ""); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized close, got %v", err)
	}
}

func TestCampusAdminScopeContainment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	campusAdmin := h.principal(t, "campus-admin", scopeC1, "CAMPUS_ADMIN")

	inCampus := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	outside := h.createTicket(t, scopeD2, domain.TicketPriorityMedium)
	for _, id := range []string{inCampus.ID, outside.ID} {
		h.force(t, id, func(cur *domain.Ticket) { cur.Status = domain.TicketStatusInProgress })
	}

	if _, err := h.machine.Transition(ctx, campusAdmin, inCampus.ID, domain.TicketStatusResolved, ""); err != nil {
		t.Fatalf("expected resolve within campus, got %v", err)
	}
	if _, err := h.machine.Transition(ctx, campusAdmin, outside.ID, domain.TicketStatusResolved, ""); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized outside campus, got %v", err)
	}
}

func TestStartAssignsActor(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	res, err := h.machine.Transition(context.Background(), h.staff(t), ticket.ID, domain.TicketStatusInProgress, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Ticket.AssigneeID == nil || *res.Ticket.AssigneeID != "staff-1" {
		t.Fatalf("expected staff-1 assigned, got %v", res.Ticket.AssigneeID)
	}
	want := []events.EventType{events.EventTicketStatusChanged, events.EventTicketAssigned}
	if got := eventTypes(res.Events); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestPendingInfoKeepsDeadline(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	original := *ticket.Deadline

	h.clock.Advance(time.Hour)
	res, err := h.machine.Transition(context.Background(), h.staff(t), ticket.ID, domain.TicketStatusPendingInfo, "need room number")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if res.Ticket.Deadline == nil || !res.Ticket.Deadline.Equal(original) {
		t.Fatalf("expected deadline %v kept, got %v", original, res.Ticket.Deadline)
	}
}

func TestReopenWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	staff := h.staff(t)

	resolve := func() *domain.Ticket {
		ticket := h.createTicket(t, scopeD1, domain.TicketPriorityLow)
		if _, err := h.machine.Transition(ctx, staff, ticket.ID, domain.TicketStatusInProgress, ""); err != nil {
			t.Fatalf("start: %v", err)
		}
		res, err := h.machine.Transition(ctx, staff, ticket.ID, domain.TicketStatusResolved, "")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Ticket.Deadline != nil || res.Ticket.ResolvedAt == nil {
			t.Fatalf("resolved ticket must have resolved_at and no deadline")
		}
		return res.Ticket
	}

	late := resolve()
	h.clock.Advance(DefaultReopenWindow + time.Hour)
	if _, err := h.machine.Transition(ctx, h.student(t), late.ID, domain.TicketStatusInProgress, ""); !errors.Is(err, apperrors.ErrTransitionExpired) {
		t.Fatalf("expected transition expired, got %v", err)
	}

	fresh := resolve()
	h.clock.Advance(24 * time.Hour)
	res, err := h.machine.Transition(ctx, h.student(t), fresh.ID, domain.TicketStatusInProgress, "still broken")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if res.Ticket.ResolvedAt != nil {
		t.Fatalf("reopen must clear resolved_at")
	}
	if res.Ticket.Deadline == nil || !res.Ticket.Deadline.Equal(h.clock.Now().Add(SLALow)) {
		t.Fatalf("expected fresh deadline, got %v", res.Ticket.Deadline)
	}
	if res.Ticket.AssigneeID == nil || *res.Ticket.AssigneeID != "staff-1" {
		t.Fatalf("reopen must keep the previous assignee, got %v", res.Ticket.AssigneeID)
	}
}

func TestManualEscalationUpToTerminalLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	head := h.head(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityHigh)
	if _, err := h.machine.Transition(ctx, h.staff(t), ticket.ID, domain.TicketStatusInProgress, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	for level := domain.EscalationLevel(1); level <= domain.MaxEscalationLevel; level++ {
		h.clock.Advance(time.Hour)
		res, err := h.machine.Escalate(ctx, head, ticket.ID, domain.TriggerManual, "needs college")
		if err != nil {
			t.Fatalf("escalate to %d: %v", level, err)
		}
		if !res.Applied || res.Ticket.Level != level || res.Ticket.Status != domain.TicketStatusEscalated {
			t.Fatalf("expected ESCALATED at level %d, got %s at %d", level, res.Ticket.Status, res.Ticket.Level)
		}
		if res.Ticket.AssigneeID != nil {
			t.Fatalf("escalation must clear the assignee")
		}
		if !res.Ticket.Deadline.Equal(h.clock.Now().Add(SLAHigh)) {
			t.Fatalf("expected fresh deadline at level %d", level)
		}
		if _, err := h.machine.Assign(ctx, head, ticket.ID, "officer-"+level.String()); err != nil {
			t.Fatalf("assign at level %d: %v", level, err)
		}
	}

	res, err := h.machine.Escalate(ctx, head, ticket.ID, domain.TriggerManual, "")
	if err != nil {
		t.Fatalf("escalate at max: %v", err)
	}
	if res.Applied || res.Ticket.Level != domain.MaxEscalationLevel {
		t.Fatalf("terminal escalation must not change the ticket")
	}
	if len(res.Events) != 1 || res.Events[0].Type != events.EventMaxEscalationReached {
		t.Fatalf("expected MaxEscalationReached, got %v", eventTypes(res.Events))
	}

	history, err := h.store.Escalations().ListByTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 escalation records, got %d", len(history))
	}
	for i, record := range history {
		if int(record.FromLevel) != i || int(record.ToLevel) != i+1 || record.TriggeredBy != domain.TriggerManual {
			t.Fatalf("record %d out of order: %+v", i, record)
		}
	}
}

func TestManualEscalationRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	if _, err := h.machine.Escalate(ctx, h.head(t), ticket.ID, domain.TriggerManual, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("OPEN ticket must not escalate manually, got %v", err)
	}
	h.force(t, ticket.ID, func(cur *domain.Ticket) { cur.Status = domain.TicketStatusInProgress })
	if _, err := h.machine.Escalate(ctx, h.staff(t), ticket.ID, domain.TriggerManual, ""); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("staff lacks ticket:escalate, got %v", err)
	}
	if _, err := h.machine.Escalate(ctx, h.head(t), ticket.ID, domain.TriggerSLABreach, ""); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("SLA trigger is reserved to the system, got %v", err)
	}
	if _, err := h.machine.Escalate(ctx, h.head(t), ticket.ID, "WHIM", ""); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("unknown trigger, got %v", err)
	}
}

func TestAssign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	res, err := h.machine.Assign(ctx, h.head(t), ticket.ID, "staff-9")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Ticket.Status != domain.TicketStatusOpen || *res.Ticket.AssigneeID != "staff-9" {
		t.Fatalf("assign on OPEN keeps status, got %s", res.Ticket.Status)
	}
	if _, err := h.machine.Assign(ctx, h.staff(t), ticket.ID, "staff-1"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := h.machine.Assign(ctx, h.head(t), ticket.ID, " "); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	h.force(t, ticket.ID, func(cur *domain.Ticket) {
		cur.Status = domain.TicketStatusClosed
		cur.Deadline = nil
	})
	if _, err := h.machine.Assign(ctx, h.head(t), ticket.ID, "staff-9"); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("closed ticket cannot be assigned, got %v", err)
	}
}

func TestLinkedDuplicateMirrorsParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	staff := h.staff(t)
	parent := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	linked, err := h.machine.CreateLinked(ctx, h.student(t), NewTicket{
		Title:       "Projector in 204 dead",
		Description: "Same issue",
		Scope:       scopeD1,
		CreatorID:   "student-2",
	}, nil, parent.ID, 0.93)
	if err != nil {
		t.Fatalf("create linked: %v", err)
	}
	child := linked.Ticket
	if child.Deadline != nil || child.LinkedDuplicateOf == nil || *child.LinkedDuplicateOf != parent.ID {
		t.Fatalf("linked child must point at parent without a deadline")
	}
	if got := eventTypes(linked.Events); len(got) != 2 || got[1] != events.EventDuplicateLinked {
		t.Fatalf("unexpected events %v", got)
	}

	if _, err := h.machine.Transition(ctx, staff, parent.ID, domain.TicketStatusInProgress, ""); err != nil {
		t.Fatalf("start parent: %v", err)
	}
	mirrored := h.get(t, child.ID)
	if mirrored.Status != domain.TicketStatusInProgress || mirrored.Deadline != nil {
		t.Fatalf("child should mirror IN_PROGRESS without deadline, got %s %v", mirrored.Status, mirrored.Deadline)
	}

	if _, err := h.machine.Transition(ctx, staff, child.ID, domain.TicketStatusResolved, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("linked ticket must not transition on its own, got %v", err)
	}

	if _, err := h.machine.Transition(ctx, staff, parent.ID, domain.TicketStatusResolved, ""); err != nil {
		t.Fatalf("resolve parent: %v", err)
	}
	mirrored = h.get(t, child.ID)
	if mirrored.Status != domain.TicketStatusResolved || mirrored.ResolvedAt == nil {
		t.Fatalf("child should be RESOLVED, got %s", mirrored.Status)
	}

	h.clock.Advance(time.Hour)
	res, err := h.machine.Unlink(ctx, staff, child.ID)
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if res.Ticket.Status != domain.TicketStatusOpen || res.Ticket.LinkedDuplicateOf != nil {
		t.Fatalf("unlinked ticket must be an independent OPEN ticket")
	}
	if res.Ticket.Deadline == nil || !res.Ticket.Deadline.Equal(h.clock.Now().Add(SLAMedium)) {
		t.Fatalf("unlinked ticket needs a fresh deadline, got %v", res.Ticket.Deadline)
	}
	if res.Events[0].Type != events.EventDuplicateUnlinked {
		t.Fatalf("expected DuplicateUnlinked first, got %v", eventTypes(res.Events))
	}
	if _, err := h.machine.Unlink(ctx, staff, child.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("second unlink should fail, got %v", err)
	}
}

func TestUnlinkRejectsTerminalDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	linked, err := h.machine.CreateLinked(ctx, h.student(t), NewTicket{
		Title: "Projector in 204 dead", Description: "Same issue", Scope: scopeD1, CreatorID: "student-2",
	}, nil, parent.ID, 0.93)
	if err != nil {
		t.Fatalf("create linked: %v", err)
	}

	if _, err := h.machine.Transition(ctx, h.head(t), parent.ID, domain.TicketStatusRejected, "spam"); err != nil {
		t.Fatalf("reject parent: %v", err)
	}
	if got := h.get(t, linked.Ticket.ID); got.Status != domain.TicketStatusRejected {
		t.Fatalf("child should mirror REJECTED, got %s", got.Status)
	}

	if _, err := h.machine.Unlink(ctx, h.head(t), linked.Ticket.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("terminal duplicate must not be unlinked, got %v", err)
	}
	got := h.get(t, linked.Ticket.ID)
	if got.Status != domain.TicketStatusRejected || got.Deadline != nil || !got.IsLinkedDuplicate() {
		t.Fatalf("terminal duplicate changed: status=%s deadline=%v linked=%v", got.Status, got.Deadline, got.IsLinkedDuplicate())
	}
}

func TestPermissionCheckedBeforeTransitionTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	auditor := h.principal(t, "audit-1", scopeC1, "AUDITOR")
	sibling := h.principal(t, "staff-4", scopeD4, "DEPARTMENT_STAFF")

	cases := []struct {
		name    string
		actor   domain.Principal
		target  domain.TicketStatus
		wantErr error
	}{
		{"unlisted pair without capability", auditor, domain.TicketStatusClosed, apperrors.ErrUnauthorized},
		{"unlisted pair outside scope", sibling, domain.TicketStatusOpen, apperrors.ErrUnauthorized},
		{"system-only pair without capability", auditor, domain.TicketStatusInProgress, apperrors.ErrUnauthorized},
		{"unlisted pair with capability", h.admin(t), domain.TicketStatusClosed, apperrors.ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.target == domain.TicketStatusInProgress {
				h.force(t, ticket.ID, func(cur *domain.Ticket) { cur.Status = domain.TicketStatusPendingInfo })
			} else {
				h.force(t, ticket.ID, func(cur *domain.Ticket) { cur.Status = domain.TicketStatusOpen })
			}
			if _, err := h.machine.Transition(ctx, tc.actor, ticket.ID, tc.target, ""); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// assignment and unlinking follow the same order
	if _, err := h.machine.Assign(ctx, auditor, ticket.ID, "staff-1"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("assign: expected unauthorized, got %v", err)
	}
	if _, err := h.machine.Unlink(ctx, sibling, ticket.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("unlink: expected unauthorized, got %v", err)
	}
}

func TestCreateLinkedRejectsInactiveParent(t *testing.T) {
	h := newHarness(t)
	parent := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	h.force(t, parent.ID, func(cur *domain.Ticket) {
		cur.Status = domain.TicketStatusRejected
		cur.Deadline = nil
	})
	_, err := h.machine.CreateLinked(context.Background(), h.student(t), NewTicket{
		Title: "t", Description: "d", Scope: scopeD1, CreatorID: "student-2",
	}, nil, parent.ID, 0.9)
	if !errors.Is(err, errLinkTargetGone) {
		t.Fatalf("expected errLinkTargetGone, got %v", err)
	}
}

func TestCommittedEventsLandInOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityHigh)
	if _, err := h.machine.Transition(ctx, h.staff(t), ticket.ID, domain.TicketStatusInProgress, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.machine.Transition(ctx, h.student(t), ticket.ID, domain.TicketStatusClosed, ""); err == nil {
		t.Fatalf("expected rejected transition")
	}
	h.force(t, ticket.ID, func(cur *domain.Ticket) { cur.Level = domain.MaxEscalationLevel })
	if _, err := h.machine.Escalate(ctx, h.head(t), ticket.ID, domain.TriggerManual, ""); err != nil {
		t.Fatalf("escalate at max: %v", err)
	}

	records, err := h.store.Outbox().Claim(ctx, 0, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	got := make([]events.Event, 0, len(records))
	for _, rec := range records {
		got = append(got, rec.Event)
	}
	want := []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketAssigned,
		events.EventMaxEscalationReached,
	}
	types := eventTypes(got)
	if len(types) != len(want) {
		t.Fatalf("expected outbox %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected outbox %v, got %v", want, types)
		}
	}
	created := got[0]
	if created.TicketID != ticket.ID || created.TicketNumber != ticket.Number {
		t.Fatalf("created event not bound to the stored ticket: %+v", created)
	}
	if created.DedupeKey != events.DedupeKey(ticket.ID, events.EventTicketCreated, created.Timestamp) {
		t.Fatalf("created event dedupe key not sealed over the ticket id")
	}
}

// racingRepo bumps the stored version right before the first update so the
// compare-and-swap observes a concurrent writer.
type racingRepo struct {
	repository.TicketRepository
	once sync.Once
}

func (r *racingRepo) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, escalations []domain.EscalationEvent, outbox []events.Event) error {
	r.once.Do(func() {
		cur, err := r.TicketRepository.GetByID(ctx, ticket.ID)
		if err == nil {
			_ = r.TicketRepository.Update(ctx, cur, cur.Version, nil, nil)
		}
	})
	return r.TicketRepository.Update(ctx, ticket, expectedVersion, escalations, outbox)
}

func TestConcurrentModification(t *testing.T) {
	h := newHarness(t)
	machine := h.newMachine(&racingRepo{TicketRepository: h.store.Tickets()})
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	_, err := machine.Transition(context.Background(), h.staff(t), ticket.ID, domain.TicketStatusInProgress, "")
	if !errors.Is(err, apperrors.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	if got := h.get(t, ticket.ID); got.Status != domain.TicketStatusOpen {
		t.Fatalf("losing writer must not change status, got %s", got.Status)
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	h := newHarness(t)
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)
	staff := h.staff(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.machine.Transition(context.Background(), staff, ticket.ID, domain.TicketStatusInProgress, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInvalidTransition):
				rejected++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != 19 {
		t.Fatalf("expected exactly one winner, got %d ok / %d rejected", succeeded, rejected)
	}
	if got := h.get(t, ticket.ID); got.Version != 2 {
		t.Fatalf("expected a single committed version bump, got version %d", got.Version)
	}
	if h.machine.locks.size() != 0 {
		t.Fatalf("lock table should be empty after all releases")
	}
}

func TestResumeOnRequesterReplyOnlyFromPendingInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.createTicket(t, scopeD1, domain.TicketPriorityMedium)

	res, err := h.machine.ResumeOnRequesterReply(ctx, ticket.ID)
	if err != nil || res.Applied {
		t.Fatalf("OPEN ticket must be left alone, applied=%v err=%v", res != nil && res.Applied, err)
	}

	if _, err := h.machine.Transition(ctx, h.staff(t), ticket.ID, domain.TicketStatusPendingInfo, ""); err != nil {
		t.Fatalf("pending: %v", err)
	}
	res, err = h.machine.ResumeOnRequesterReply(ctx, ticket.ID)
	if err != nil || !res.Applied || res.Ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected resume to IN_PROGRESS, got %v", err)
	}
	if !res.Events[0].Actor.System {
		t.Fatalf("resume must be attributed to the system actor")
	}
}
