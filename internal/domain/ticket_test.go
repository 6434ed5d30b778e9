package domain

import (
	"testing"
	"time"
)

func TestUrgencyFor(t *testing.T) {
	cases := map[TicketPriority]Urgency{
		TicketPriorityCritical: UrgencyUrgent,
		TicketPriorityHigh:     UrgencyHigh,
		TicketPriorityMedium:   UrgencyMedium,
		TicketPriorityLow:      UrgencyLow,
		"":                     UrgencyMedium,
	}
	for priority, want := range cases {
		if got := UrgencyFor(priority); got != want {
			t.Fatalf("UrgencyFor(%q) = %s, want %s", priority, got, want)
		}
	}
}

func TestFormatTicketNumber(t *testing.T) {
	if got := FormatTicketNumber(42); got != "TKT-000042" {
		t.Fatalf("unexpected number %q", got)
	}
}

func TestCheckInvariants(t *testing.T) {
	deadline := time.Now()
	parent := "p1"

	cases := []struct {
		name    string
		ticket  Ticket
		wantErr bool
	}{
		{"open with deadline", Ticket{Status: TicketStatusOpen, Deadline: &deadline}, false},
		{"open without deadline", Ticket{Status: TicketStatusOpen}, true},
		{"resolved without deadline", Ticket{Status: TicketStatusResolved}, false},
		{"closed with deadline", Ticket{Status: TicketStatusClosed, Deadline: &deadline}, true},
		{"linked without deadline", Ticket{Status: TicketStatusInProgress, LinkedDuplicateOf: &parent}, false},
		{"linked with deadline", Ticket{Status: TicketStatusOpen, LinkedDuplicateOf: &parent, Deadline: &deadline}, true},
		{"level above system", Ticket{Status: TicketStatusResolved, Level: 4}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ticket.CheckInvariants()
			if (err != nil) != tc.wantErr {
				t.Fatalf("CheckInvariants() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	deadline := time.Now()
	assignee := "a1"
	original := &Ticket{Deadline: &deadline, AssigneeID: &assignee}
	cp := original.Clone()
	*cp.AssigneeID = "changed"
	cp.Deadline = nil

	if *original.AssigneeID != "a1" || original.Deadline == nil {
		t.Fatalf("clone aliased original fields")
	}
}
