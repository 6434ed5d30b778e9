package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
)

var (
	testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	scopeD1 = domain.Scope{CampusID: "C1", CollegeID: "CL1", DepartmentID: "D1"}
	scopeD4 = domain.Scope{CampusID: "C1", CollegeID: "CL1", DepartmentID: "D4"}
	scopeD2 = domain.Scope{CampusID: "C2", CollegeID: "CL2", DepartmentID: "D2"}
	scopeC1 = domain.Scope{CampusID: "C1"}
)

type harness struct {
	store    *repository.MemoryStore
	clock    *clock.FakeClock
	recorder *events.Recorder
	machine  *TicketStateMachine
	catalog  *auth.RoleCatalog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := auth.DefaultRoleCatalog()
	if err != nil {
		t.Fatalf("load roles: %v", err)
	}
	h := &harness{
		store:    repository.NewMemoryStore(),
		clock:    clock.Fake(testNow),
		recorder: events.NewRecorder(),
		catalog:  catalog,
	}
	h.machine = h.newMachine(h.store.Tickets())
	seedOrg(t, h.store.Org())
	return h
}

func (h *harness) newMachine(repo repository.TicketRepository) *TicketStateMachine {
	return NewTicketStateMachine(StateMachineDependencies{
		TicketRepo: repo,
		Outbox:     h.store.Outbox(),
		Clock:      h.clock,
		Dispatcher: h.recorder,
	})
}

func (h *harness) principal(t *testing.T, userID string, scope domain.Scope, roles ...string) domain.Principal {
	t.Helper()
	resolved, err := h.catalog.Resolve(roles)
	if err != nil {
		t.Fatalf("resolve roles: %v", err)
	}
	return domain.Principal{UserID: userID, Roles: resolved, Scope: scope}
}

func (h *harness) student(t *testing.T) domain.Principal {
	return h.principal(t, "student-1", scopeD1, "STUDENT")
}

func (h *harness) staff(t *testing.T) domain.Principal {
	return h.principal(t, "staff-1", scopeD1, "DEPARTMENT_STAFF")
}

func (h *harness) head(t *testing.T) domain.Principal {
	return h.principal(t, "head-1", scopeD1, "DEPARTMENT_HEAD")
}

func (h *harness) admin(t *testing.T) domain.Principal {
	return h.principal(t, "admin-1", scopeC1, "SYSTEM_ADMIN")
}

// createTicket opens a ticket through the state machine as the student.
func (h *harness) createTicket(t *testing.T, scope domain.Scope, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	res, err := h.machine.Create(context.Background(), h.student(t), NewTicket{
		Title:       "Projector broken in room 204",
		Description: "The projector does not turn on.",
		Priority:    priority,
		Category:    domain.CategoryAcademic,
		Scope:       scope,
		CreatorID:   "student-1",
	}, nil)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return res.Ticket
}

// force rewrites stored state directly, bypassing the state machine.
func (h *harness) force(t *testing.T, id string, fn func(*domain.Ticket)) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	cur, err := h.store.Tickets().GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	fn(cur)
	if err := h.store.Tickets().Update(ctx, cur, cur.Version, nil, nil); err != nil {
		t.Fatalf("force update: %v", err)
	}
	return cur
}

func (h *harness) get(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := h.store.Tickets().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	return ticket
}

func seedOrg(t *testing.T, repo repository.OrgRepository) {
	t.Helper()
	parent := func(id string) *string { return &id }
	units := []domain.OrgUnit{
		{ID: "C1", Kind: domain.OrgUnitCampus, Name: "North Campus", IsActive: true},
		{ID: "CL1", Kind: domain.OrgUnitCollege, Name: "Engineering", ParentID: parent("C1"), IsActive: true},
		{ID: "D1", Kind: domain.OrgUnitDepartment, Name: "Computer Science", ParentID: parent("CL1"), IsActive: true},
		{ID: "D3", Kind: domain.OrgUnitDepartment, Name: "Closed Lab", ParentID: parent("CL1"), IsActive: false},
		{ID: "D4", Kind: domain.OrgUnitDepartment, Name: "Mechanical", ParentID: parent("CL1"), IsActive: true},
		{ID: "C2", Kind: domain.OrgUnitCampus, Name: "South Campus", IsActive: true},
		{ID: "CL2", Kind: domain.OrgUnitCollege, Name: "Arts", ParentID: parent("C2"), IsActive: true},
		{ID: "D2", Kind: domain.OrgUnitDepartment, Name: "History", ParentID: parent("CL2"), IsActive: true},
	}
	for i := range units {
		if err := repo.Create(context.Background(), &units[i]); err != nil {
			t.Fatalf("seed org unit %s: %v", units[i].ID, err)
		}
	}
}

// fakeEmbedder returns vectors keyed by ticket title.
type fakeEmbedder struct {
	vectors map[string][]float32
	model   string
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	f.calls++
	if f.err != nil {
		return domain.Embedding{}, f.err
	}
	title := strings.SplitN(text, "\n", 2)[0]
	vector, ok := f.vectors[title]
	if !ok {
		vector = []float32{0, 1}
	}
	model := f.model
	if model == "" {
		model = testModel
	}
	return domain.Embedding{Model: model, Vector: vector}, nil
}

func eventTypes(evts []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evts))
	for _, evt := range evts {
		out = append(out, evt.Type)
	}
	return out
}
