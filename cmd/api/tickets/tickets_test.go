package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	apppkg "github.com/mark3748/intranet-portal/cmd/api/app"
	authpkg "github.com/mark3748/intranet-portal/cmd/api/auth"
	metrics "github.com/mark3748/intranet-portal/cmd/api/metrics"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/lifecycle/lifecycletest"
	"github.com/mark3748/intranet-portal/internal/sla"
)

var users = map[string]authpkg.AuthUser{
	"requester": {ID: "user-1", SectorID: "fin"},
	"stranger":  {ID: "user-2", SectorID: "rh"},
	"admin":     {ID: lifecycletest.AdminID, SectorID: "ti", Roles: []string{authpkg.RoleAdmin}},
}

// asHeader picks the caller from the X-User header.
func asHeader(c *gin.Context) {
	if u, ok := users[c.GetHeader("X-User")]; ok {
		c.Set("user", u)
	}
}

func newTestApp(t *testing.T) (*apppkg.App, *lifecycletest.Harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := lifecycletest.NewHarness()
	a := apppkg.NewApp(apppkg.Config{Env: "test"}, nil, nil, nil, nil)
	a.Svc = h.Svc
	g := a.R.Group("/", asHeader)
	g.POST("/tickets", Create(a))
	g.GET("/tickets", List(a))
	g.GET("/tickets/:id", Get(a))
	g.PATCH("/tickets/:id", Update(a))
	g.PUT("/tickets/:id/assignees", SetAssignees(a))
	g.PUT("/tickets/:id/sla/deadline", SetDeadline(a))
	g.GET("/tickets/:id/sla/cycles", Cycles(a))
	g.GET("/tickets/:id/events", Events(a))
	return a, h
}

func do(a *apppkg.App, user, method, url, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	a.R.ServeHTTP(rr, req)
	return rr
}

func create(t *testing.T, a *apppkg.App, body string) lifecycle.Ticket {
	t.Helper()
	rr := do(a, "requester", http.MethodPost, "/tickets", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var tk lifecycle.Ticket
	if err := json.Unmarshal(rr.Body.Bytes(), &tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) (string, map[string]string) {
	t.Helper()
	var env struct {
		Error struct {
			Code        string            `json:"code"`
			FieldErrors map[string]string `json:"field_errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid error body %q: %v", rr.Body.String(), err)
	}
	return env.Error.Code, env.Error.FieldErrors
}

func TestCreateTicket(t *testing.T) {
	a, h := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline","description":"3rd floor"}`)
	if tk.Status != lifecycle.StatusAberto || tk.Priority != sla.PriorityMedia || tk.TargetSectorID != "ti" || tk.CreatedBy != "user-1" {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	if got := h.Store.EventTypes(tk.ID); len(got) == 0 || got[0] != "created" {
		t.Fatalf("unexpected events: %v", got)
	}

	tests := []struct {
		name, user, body string
		want             int
		code, field      string
	}{
		{"unauthenticated", "", `{"title":"abc"}`, http.StatusUnauthorized, "unauthenticated", ""},
		{"short title", "requester", `{"title":"ab"}`, http.StatusBadRequest, "validation", "title"},
		{"bad priority", "requester", `{"title":"abc","priority":"soon"}`, http.StatusBadRequest, "validation", "priority"},
		{"bad category", "requester", `{"title":"abc","category_id":"nope"}`, http.StatusBadRequest, "validation", "categoryid"},
		{"unknown category", "requester", `{"title":"abc","category_id":"6f1c2f3e-8d4b-4e8a-9a51-0d1e2f3a4b5c"}`, http.StatusBadRequest, "validation", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(a, tt.user, http.MethodPost, "/tickets", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			code, fields := errorCode(t, rr)
			if code != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, code)
			}
			if tt.field != "" {
				if _, ok := fields[tt.field]; !ok {
					t.Fatalf("expected field error for %s, got %v", tt.field, fields)
				}
			}
		})
	}
}

func TestListVisibilityAndFilters(t *testing.T) {
	a, h := newTestApp(t)
	create(t, a, `{"title":"vpn down","priority":"alta"}`)
	h.Clock.Advance(time.Minute)
	create(t, a, `{"title":"new mouse","priority":"BAIXA"}`)

	list := func(user, query string) []lifecycle.Ticket {
		rr := do(a, user, http.MethodGet, "/tickets"+query, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("list: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var out []lifecycle.Ticket
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		return out
	}
	if got := list("requester", ""); len(got) != 2 {
		t.Fatalf("requester should see own tickets, got %d", len(got))
	}
	if got := list("stranger", ""); len(got) != 0 {
		t.Fatalf("stranger should see nothing, got %d", len(got))
	}
	if got := list("admin", "?priority=alta"); len(got) != 1 || got[0].Title != "vpn down" {
		t.Fatalf("priority filter: %+v", got)
	}
	if got := list("admin", "?status=aberto,em_andamento&limit=1"); len(got) != 1 {
		t.Fatalf("limit not applied: %d", len(got))
	}
	if rr := do(a, "admin", http.MethodGet, "/tickets?status=DONE", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestGetTicketVisibility(t *testing.T) {
	a, _ := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline"}`)
	if rr := do(a, "requester", http.MethodGet, "/tickets/"+tk.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rr.Code)
	}
	if rr := do(a, "stranger", http.MethodGet, "/tickets/"+tk.ID, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("stranger: expected 403, got %d", rr.Code)
	}
	if rr := do(a, "admin", http.MethodGet, "/tickets/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", rr.Code)
	}
}

func TestUpdateTicket(t *testing.T) {
	a, h := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline"}`)
	url := "/tickets/" + tk.ID

	tests := []struct {
		name, user, body string
		want             int
		code             string
	}{
		{"requester may not change status", "requester", `{"status":"EM_ANDAMENTO"}`, http.StatusForbidden, "forbidden"},
		{"empty body", "admin", `{}`, http.StatusBadRequest, "validation"},
		{"unknown status", "admin", `{"status":"DONE"}`, http.StatusBadRequest, "validation"},
		{"start work", "admin", `{"status":"em_andamento","priority":"urgente"}`, http.StatusOK, ""},
		{"illegal move", "admin", `{"status":"ABERTO"}`, http.StatusConflict, "invalid_transition"},
		{"resolve", "admin", `{"status":"RESOLVIDO"}`, http.StatusOK, ""},
		{"reopen", "admin", `{"status":"ABERTO"}`, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Clock.Advance(time.Minute)
			rr := do(a, tt.user, http.MethodPatch, url, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if tt.code != "" {
				if code, _ := errorCode(t, rr); code != tt.code {
					t.Fatalf("expected code %q, got %q", tt.code, code)
				}
			}
		})
	}

	rr := do(a, "requester", http.MethodGet, url+"/sla/cycles", "")
	var cycles []sla.Cycle
	if err := json.Unmarshal(rr.Body.Bytes(), &cycles); err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 2 || cycles[0].ResolvedAt == nil || cycles[1].Number != 2 || !cycles[1].Active() {
		t.Fatalf("expected a resolved cycle and a reopened one, got %+v", cycles)
	}
}

func TestSetDeadline(t *testing.T) {
	a, h := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline"}`)
	url := "/tickets/" + tk.ID + "/sla/deadline"
	due := h.Clock.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"resolution_due_at":"` + due + `","reason":"vendor part"}`

	if rr := do(a, "requester", http.MethodPut, url, body); rr.Code != http.StatusForbidden {
		t.Fatalf("requester: expected 403, got %d", rr.Code)
	}
	if rr := do(a, "admin", http.MethodPut, url, `{"reason":"x"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing due date: expected 400, got %d", rr.Code)
	}
	rr := do(a, "admin", http.MethodPut, url, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cyc sla.Cycle
	if err := json.Unmarshal(rr.Body.Bytes(), &cyc); err != nil {
		t.Fatal(err)
	}
	if !cyc.ManualOverride || cyc.OverrideReason == nil || *cyc.OverrideReason != "vendor part" {
		t.Fatalf("override not applied: %+v", cyc)
	}

	if rr := do(a, "admin", http.MethodPatch, "/tickets/"+tk.ID, `{"status":"CANCELADO"}`); rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}
	rr = do(a, "admin", http.MethodPut, url, body)
	if code, _ := errorCode(t, rr); rr.Code != http.StatusConflict || code != "no_active_cycle" {
		t.Fatalf("closed cycle: expected 409 no_active_cycle, got %d %s", rr.Code, code)
	}
}

func TestSetAssigneesGrantsVisibility(t *testing.T) {
	a, _ := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline"}`)
	body := `{"user_ids":["user-2"]}`
	if rr := do(a, "admin", http.MethodPut, "/tickets/"+tk.ID+"/assignees", body); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid ids: expected 400, got %d", rr.Code)
	}

	users["agent"] = authpkg.AuthUser{ID: "0b7e3c52-4a55-4d57-9a7c-3b2f1d0e9c81", SectorID: "ti"}
	t.Cleanup(func() { delete(users, "agent") })
	body = `{"user_ids":["0b7e3c52-4a55-4d57-9a7c-3b2f1d0e9c81"]}`
	if rr := do(a, "requester", http.MethodPut, "/tickets/"+tk.ID+"/assignees", body); rr.Code != http.StatusForbidden {
		t.Fatalf("requester: expected 403, got %d", rr.Code)
	}
	if rr := do(a, "admin", http.MethodPut, "/tickets/"+tk.ID+"/assignees", body); rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(a, "agent", http.MethodGet, "/tickets/"+tk.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("assignee: expected 200, got %d", rr.Code)
	}
	rr := do(a, "agent", http.MethodGet, "/tickets/"+tk.ID+"/events", "")
	var evs []lifecycle.Event
	if err := json.Unmarshal(rr.Body.Bytes(), &evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) < 2 {
		t.Fatalf("expected creation and assignment events, got %+v", evs)
	}
}

// Create and status changes increment their counters.
func TestTicketCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.TicketsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "tickets_created_total"})
	metrics.TicketTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ticket_transitions_total"}, []string{"to"})
	reg.MustRegister(metrics.TicketsCreatedTotal, metrics.TicketTransitionsTotal)

	a, _ := newTestApp(t)
	tk := create(t, a, `{"title":"printer offline"}`)
	if got := testutil.ToFloat64(metrics.TicketsCreatedTotal); got != 1 {
		t.Fatalf("expected created counter 1, got %v", got)
	}
	do(a, "admin", http.MethodPatch, "/tickets/"+tk.ID, `{"status":"RESOLVIDO"}`)
	if got := testutil.ToFloat64(metrics.TicketTransitionsTotal.WithLabelValues("RESOLVIDO")); got != 1 {
		t.Fatalf("expected transition counter 1, got %v", got)
	}
	// rejected transitions are not counted
	do(a, "admin", http.MethodPatch, "/tickets/"+tk.ID, `{"status":"EM_ANDAMENTO"}`)
	if got := testutil.ToFloat64(metrics.TicketTransitionsTotal.WithLabelValues("EM_ANDAMENTO")); got != 0 {
		t.Fatalf("expected no counted transition, got %v", got)
	}
}

type categoryList []lifecycle.Category

func (l categoryList) ListCategories(context.Context) ([]lifecycle.Category, error) { return l, nil }

func TestCategories(t *testing.T) {
	a, _ := newTestApp(t)
	a.R.GET("/categories", Categories(categoryList{{ID: "c1", Name: "Hardware"}, {ID: "c2", Name: "Software", RequiresApproval: true, ApprovalMode: lifecycle.ModeTIAdmin}}))
	rr := do(a, "requester", http.MethodGet, "/categories", "")
	var out []lifecycle.Category
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[1].RequiresApproval || out[1].ApprovalMode != lifecycle.ModeTIAdmin {
		t.Fatalf("unexpected categories: %+v", out)
	}
}
