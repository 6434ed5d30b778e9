package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	"github.com/spec-kit/campus-helpdesk/internal/service"
)

const testSecret = "test-secret"

var (
	scopeD1 = domain.Scope{CampusID: "C1", CollegeID: "CL1", DepartmentID: "D1"}
	scopeD2 = domain.Scope{CampusID: "C2", CollegeID: "CL2", DepartmentID: "D2"}
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	parent := func(id string) *string { return &id }
	units := []domain.OrgUnit{
		{ID: "C1", Kind: domain.OrgUnitCampus, Name: "North Campus", IsActive: true},
		{ID: "CL1", Kind: domain.OrgUnitCollege, Name: "Engineering", ParentID: parent("C1"), IsActive: true},
		{ID: "D1", Kind: domain.OrgUnitDepartment, Name: "Computer Science", ParentID: parent("CL1"), IsActive: true},
		{ID: "C2", Kind: domain.OrgUnitCampus, Name: "South Campus", IsActive: true},
		{ID: "CL2", Kind: domain.OrgUnitCollege, Name: "Arts", ParentID: parent("C2"), IsActive: true},
		{ID: "D2", Kind: domain.OrgUnitDepartment, Name: "History", ParentID: parent("CL2"), IsActive: true},
	}
	for i := range units {
		if err := store.Org().Create(ctx, &units[i]); err != nil {
			t.Fatalf("seed org unit: %v", err)
		}
	}
	directory := service.NewOrgDirectory(store.Org())
	if err := directory.Refresh(ctx); err != nil {
		t.Fatalf("refresh org: %v", err)
	}
	catalog, err := auth.DefaultRoleCatalog()
	if err != nil {
		t.Fatalf("load roles: %v", err)
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	fakeClock := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	dispatcher := events.NewInMemoryDispatcher()

	machine := service.NewTicketStateMachine(service.StateMachineDependencies{
		TicketRepo: store.Tickets(),
		Clock:      fakeClock,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	})
	intake := service.NewTicketIntakeService(service.IntakeDependencies{
		StateMachine: machine,
		TicketRepo:   store.Tickets(),
		Departments:  directory,
		Logger:       logger,
		Metrics:      metrics,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     store.Tickets(),
		EscalationRepo: store.Escalations(),
	})
	messages := service.NewMessageService(service.MessageDependencies{
		TicketRepo:   store.Tickets(),
		MessageRepo:  store.Messages(),
		StateMachine: machine,
		Clock:        fakeClock,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})

	tokens := auth.NewTokenManager(testSecret, 5)
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("campus-helpdesk", "test", map[string]handlers.Pinger{"postgres": nil}),
		Tickets:        handlers.NewTicketsHandler(intake, tickets, messages),
		StaffTickets:   handlers.NewStaffTicketsHandler(tickets, machine),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, catalog),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) token(t *testing.T, subject string, scope domain.Scope, roles ...string) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(subject, roles, scope)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func dataField(t *testing.T, body map[string]any, path ...string) any {
	t.Helper()
	var cur any = body["data"]
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("field %v: not an object in %v", path, body)
		}
		cur = m[key]
	}
	return cur
}

const createBody = `{"department_id":"D1","title":"Wifi down in library","description":"No connection on floor 2","priority":"HIGH","category":"ACADEMIC"}`

func TestCreateTicketRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", "", createBody)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if code := errorCode(body); code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED, got %q", code)
	}
}

func TestCreateAndFetchTicket(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")

	status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, createBody)
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	if number := dataField(t, body, "ticket", "number"); number != "TKT-000001" {
		t.Fatalf("unexpected number %v", number)
	}
	if st := dataField(t, body, "ticket", "status"); st != string(domain.TicketStatusOpen) {
		t.Fatalf("unexpected status %v", st)
	}
	if skipped := dataField(t, body, "detector_skipped"); skipped != true {
		t.Fatalf("expected detector_skipped without an embedder, got %v", skipped)
	}

	status, body = srv.do(t, fiber.MethodGet, "/api/v1/tickets/tkt-000001", student, "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if dept := dataField(t, body, "scope", "department_id"); dept != "D1" {
		t.Fatalf("unexpected department %v", dept)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed", `{"title":`, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"empty title", `{"department_id":"D1","title":"","description":"x","priority":"LOW","category":"OTHER"}`, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown department", `{"department_id":"D9","title":"t","description":"x","priority":"LOW","category":"OTHER"}`, fiber.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, tc.body)
			if status != tc.status || errorCode(body) != tc.code {
				t.Fatalf("expected %d %s, got %d %v", tc.status, tc.code, status, body)
			}
		})
	}
}

func TestReadOutsideScopeIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")
	if status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, createBody); status != fiber.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}

	stranger := srv.token(t, "staff-9", scopeD2, "DEPARTMENT_STAFF")
	status, body := srv.do(t, fiber.MethodGet, "/api/v1/tickets/TKT-000001", stranger, "")
	if status != fiber.StatusForbidden || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("expected 403 UNAUTHORIZED, got %d %v", status, body)
	}

	status, body = srv.do(t, fiber.MethodGet, "/api/v1/tickets/TKT-000404", student, "")
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", status, body)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")
	staff := srv.token(t, "staff-1", scopeD1, "DEPARTMENT_STAFF")
	if status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, createBody); status != fiber.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}

	status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/transitions", staff, `{"status":"IN_PROGRESS"}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if applied := dataField(t, body, "applied"); applied != true {
		t.Fatalf("expected applied, got %v", applied)
	}
	if st := dataField(t, body, "ticket", "status"); st != string(domain.TicketStatusInProgress) {
		t.Fatalf("unexpected status %v", st)
	}
	if assignee := dataField(t, body, "ticket", "assignee_id"); assignee != "staff-1" {
		t.Fatalf("expected auto-assignment to staff-1, got %v", assignee)
	}

	status, body = srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/transitions", staff, `{"status":"OPEN"}`)
	if status != fiber.StatusConflict || errorCode(body) != "INVALID_TRANSITION" {
		t.Fatalf("expected 409 INVALID_TRANSITION, got %d %v", status, body)
	}

	status, body = srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/transitions", staff, `{}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing status, got %d %v", status, body)
	}
}

func TestEscalateRequiresCapability(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")
	if status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, createBody); status != fiber.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}

	status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/escalate", student, "")
	if status != fiber.StatusForbidden || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("expected 403 UNAUTHORIZED, got %d %v", status, body)
	}
}

func TestInternalNotesHiddenFromRequester(t *testing.T) {
	srv := newTestServer(t)
	student := srv.token(t, "student-1", scopeD1, "STUDENT")
	staff := srv.token(t, "staff-1", scopeD1, "DEPARTMENT_STAFF")
	if status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets", student, createBody); status != fiber.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}

	status, body := srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/messages", staff, `{"body":"check the access point","internal":true}`)
	if status != fiber.StatusCreated {
		t.Fatalf("internal note: %d %v", status, body)
	}
	status, body = srv.do(t, fiber.MethodPost, "/api/v1/tickets/TKT-000001/messages", student, `{"body":"still broken"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("reply: %d %v", status, body)
	}

	_, body = srv.do(t, fiber.MethodGet, "/api/v1/tickets/TKT-000001/messages", student, "")
	if msgs, _ := body["data"].([]any); len(msgs) != 1 {
		t.Fatalf("requester should see 1 message, got %v", body["data"])
	}
	_, body = srv.do(t, fiber.MethodGet, "/api/v1/tickets/TKT-000001/messages", staff, "")
	if msgs, _ := body["data"].([]any); len(msgs) != 2 {
		t.Fatalf("staff should see 2 messages, got %v", body["data"])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	status, body := srv.do(t, fiber.MethodGet, "/health/ready", "", "")
	if status != fiber.StatusOK || body["status"] != "ready" {
		t.Fatalf("expected ready, got %d %v", status, body)
	}
	deps, _ := body["dependencies"].(map[string]any)
	if deps["postgres"] != "disabled" {
		t.Fatalf("expected postgres disabled, got %v", deps)
	}

	if status, _ := srv.do(t, fiber.MethodGet, "/metrics", "", ""); status != fiber.StatusOK {
		t.Fatalf("expected metrics 200, got %d", status)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, fiber.MethodGet, "/nope", "", "")
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", status, body)
	}
}
