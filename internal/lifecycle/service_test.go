package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/lifecycle/lifecycletest"
	"github.com/mark3748/intranet-portal/internal/sla"
)

var (
	admin     = lifecycle.Actor{ID: "admin-1", SectorID: "ti", IsAdmin: true}
	requester = lifecycle.Actor{ID: "user-1", SectorID: "fin"}
	stranger  = lifecycle.Actor{ID: "user-2", SectorID: "rh"}
)

type fixture struct {
	svc   *lifecycle.Service
	store *lifecycletest.MemStore
	clock *lifecycletest.Clock
	pub   *lifecycletest.Publisher
	aud   *lifecycletest.AuditLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cal := sla.DefaultCalendar()
	st := lifecycletest.NewMemStore()
	dir := lifecycletest.Directory{
		Admins:         []string{admin.ID},
		Coordinators:   map[string][]string{"fin": {"coord-1"}},
		SectorAdminIDs: map[string][]string{"ti": {admin.ID}},
		Sectors:        map[string]string{"TI": "ti"},
	}
	// Monday 09:00 local
	clk := lifecycletest.NewClock(time.Date(2024, 7, 1, 9, 0, 0, 0, cal.Location))
	pub := &lifecycletest.Publisher{}
	aud := &lifecycletest.AuditLog{}
	svc := &lifecycle.Service{
		Store:        st,
		Directory:    dir,
		Due:          lifecycletest.CalendarDue{Cal: cal},
		Approvers:    lifecycle.NewResolvers(dir),
		Audit:        aud,
		Events:       pub,
		TargetSector: "TI",
		Now:          clk.Now,
	}
	return &fixture{svc: svc, store: st, clock: clk, pub: pub, aud: aud}
}

func (f *fixture) create(t *testing.T, in lifecycle.CreateInput) lifecycle.Ticket {
	t.Helper()
	if in.Title == "" {
		in.Title = "printer offline"
	}
	tk, err := f.svc.CreateTicket(context.Background(), in, requester)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return tk
}

func (f *fixture) cycles(t *testing.T, id string) []sla.Cycle {
	t.Helper()
	cs, err := f.store.ListCycles(context.Background(), id)
	if err != nil {
		t.Fatalf("cycles: %v", err)
	}
	return cs
}

func TestCreateTicketOpensFirstCycle(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, lifecycle.CreateInput{Priority: sla.PriorityAlta})
	if tk.Status != lifecycle.StatusAberto || tk.TargetSectorID != "ti" || tk.RequesterSectorID != "fin" {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	cs := f.cycles(t, tk.ID)
	if len(cs) != 1 || cs[0].Number != 1 || !cs[0].Active() {
		t.Fatalf("unexpected cycles: %+v", cs)
	}
	if !cs[0].FirstResponseDueAt.Equal(f.clock.Now().Add(4 * time.Hour)) {
		t.Fatalf("first response due %v", cs[0].FirstResponseDueAt)
	}
	if evs := f.pub.Events(); len(evs) != 1 || evs[0].Type != lifecycle.EventTicketCreated {
		t.Fatalf("unexpected publishes: %+v", evs)
	}
	if ents := f.aud.Entries(); len(ents) != 1 || ents[0].Action != "create" {
		t.Fatalf("unexpected audit: %+v", ents)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateTicket(ctx, lifecycle.CreateInput{Title: "  "}, requester); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.CreateTicket(ctx, lifecycle.CreateInput{Title: "x", Priority: "NOPE"}, requester); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	cat := "missing"
	if _, err := f.svc.CreateTicket(ctx, lifecycle.CreateInput{Title: "x", CategoryID: &cat}, requester); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.UpdateStatus(context.Background(), tk.ID, lifecycle.StatusEmAndamento, requester); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestInvalidTransition(t *testing.T) {
	f := newFixture(t)
	tk := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.UpdateStatus(context.Background(), tk.ID, lifecycle.StatusAberto, admin); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := f.store.EventTypes(tk.ID); len(got) != 1 {
		t.Fatalf("rejected move must not record events: %v", got)
	}
}

func TestResolveAndReopenAppendsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{Priority: sla.PriorityUrgente})

	// URGENTE resolution target is 480 business minutes; resolve two business days later.
	f.clock.Advance(48 * time.Hour)
	res, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusResolvido, admin)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ClosedAt == nil {
		t.Fatalf("closedAt not set")
	}
	first := f.cycles(t, tk.ID)[0]
	if first.ResolvedAt == nil || !first.ResolutionBreached {
		t.Fatalf("expected late resolution on cycle 1: %+v", first)
	}

	f.clock.Advance(time.Hour)
	reopened, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAberto, admin)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("closedAt must be cleared on reopen")
	}
	cs := f.cycles(t, tk.ID)
	if len(cs) != 2 || cs[1].Number != 2 || !cs[1].OpenedAt.Equal(f.clock.Now()) || !cs[1].Active() {
		t.Fatalf("unexpected cycles after reopen: %+v", cs)
	}
	if !cs[0].ResolvedAt.Equal(*first.ResolvedAt) || cs[0].ResolutionBreached != first.ResolutionBreached {
		t.Fatalf("previous cycle mutated by reopen")
	}

	// a second round keeps numbering strictly increasing
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusCancelado, admin); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c := f.cycles(t, tk.ID)[1]; c.Active() || c.ResolutionBreached {
		t.Fatalf("cancel must close cycle 2 without breach: %+v", c)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAberto, admin); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if cs := f.cycles(t, tk.ID); len(cs) != 3 || cs[2].Number != 3 {
		t.Fatalf("unexpected cycles: %+v", cs)
	}
}

func TestConcurrentReopenCreatesOneCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusResolvido, admin); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAberto, admin)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, lifecycle.ErrInvalidTransition) && !errors.Is(err, lifecycle.ErrConflict) {
				t.Fatalf("unexpected error: %v", err)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one reopen to fail, got %v", errs)
	}
	if cs := f.cycles(t, tk.ID); len(cs) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cs))
	}
}

func TestManualDeadlineSurvivesPriorityChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{Priority: sla.PriorityBaixa})
	due := f.clock.Now().Add(72 * time.Hour)

	c, err := f.svc.SetManualResolutionDeadline(ctx, tk.ID, due, "vendor delay", admin)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !c.ManualOverride || c.OverrideReason == nil || *c.OverrideReason != "vendor delay" || *c.OverrideBy != admin.ID {
		t.Fatalf("override not recorded: %+v", c)
	}
	if _, err := f.svc.UpdatePriority(ctx, tk.ID, sla.PriorityUrgente, admin); err != nil {
		t.Fatalf("priority: %v", err)
	}
	got := f.cycles(t, tk.ID)[0]
	if !got.ResolutionDueAt.Equal(due) || !got.ManualOverride {
		t.Fatalf("priority change overwrote manual deadline: %+v", got)
	}
}

func TestManualDeadlineErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{})
	due := f.clock.Now().Add(time.Hour)

	if _, err := f.svc.SetManualResolutionDeadline(ctx, tk.ID, due, "", requester); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusResolvido, admin); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.svc.SetManualResolutionDeadline(ctx, tk.ID, due, "", admin); !errors.Is(err, lifecycle.ErrNoActiveCycle) {
		t.Fatalf("expected no active cycle, got %v", err)
	}

	orphan := lifecycle.Ticket{ID: "orphan", Status: lifecycle.StatusAberto, CreatedBy: requester.ID}
	_ = f.store.InsertTicket(ctx, orphan)
	if _, err := f.svc.SetManualResolutionDeadline(ctx, orphan.ID, due, "", admin); !errors.Is(err, lifecycle.ErrNoCycle) {
		t.Fatalf("expected no cycle, got %v", err)
	}
}

func TestCommentGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{})

	if _, err := f.svc.AddComment(ctx, tk.ID, requester, "hello", false); !errors.Is(err, lifecycle.ErrCommentNotAllowed) {
		t.Fatalf("expected gating error, got %v", err)
	}
	if err := f.svc.CanAttach(ctx, tk.ID, requester); !errors.Is(err, lifecycle.ErrCommentNotAllowed) {
		t.Fatalf("expected attach gating error, got %v", err)
	}
	if _, err := f.svc.AddComment(ctx, tk.ID, requester, "secret", true); !errors.Is(err, lifecycle.ErrInternalComment) {
		t.Fatalf("expected internal comment error, got %v", err)
	}
	if _, err := f.svc.AddComment(ctx, tk.ID, admin, "triage note", true); err != nil {
		t.Fatalf("admin internal comment: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAguardandoUsuario, admin); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := f.svc.AddComment(ctx, tk.ID, requester, "here is the info", false); err != nil {
		t.Fatalf("requester comment: %v", err)
	}
	if err := f.svc.CanAttach(ctx, tk.ID, requester); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.svc.AddComment(ctx, tk.ID, stranger, "hi", false); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}

	mine, err := f.svc.ListComments(ctx, tk.ID, requester)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].IsInternal {
		t.Fatalf("internal comment leaked: %+v", mine)
	}
	all, _ := f.svc.ListComments(ctx, tk.ID, admin)
	if len(all) != 2 {
		t.Fatalf("admin should see both comments, got %d", len(all))
	}
	if evs := f.pub.Events(); evs[1].Type != lifecycle.EventInternalComment {
		t.Fatalf("internal comment published as %s", evs[1].Type)
	}
}

func TestFirstResponseCapturedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{Priority: sla.PriorityUrgente})

	f.clock.Advance(30 * time.Minute)
	if _, err := f.svc.AddComment(ctx, tk.ID, admin, "on it", false); err != nil {
		t.Fatalf("comment: %v", err)
	}
	first := f.cycles(t, tk.ID)[0]
	if first.FirstResponseAt == nil || !first.FirstResponseAt.Equal(f.clock.Now()) || first.FirstResponseBreached {
		t.Fatalf("first response not captured: %+v", first)
	}

	f.clock.Advance(3 * time.Hour)
	if _, err := f.svc.SetAssignees(ctx, tk.ID, []string{admin.ID, admin.ID, " "}, admin); err != nil {
		t.Fatalf("assign: %v", err)
	}
	again := f.cycles(t, tk.ID)[0]
	if !again.FirstResponseAt.Equal(*first.FirstResponseAt) || again.FirstResponseBreached {
		t.Fatalf("first response overwritten: %+v", again)
	}
	got, _ := f.store.GetTicket(ctx, tk.ID)
	if len(got.AssigneeIDs) != 1 {
		t.Fatalf("assignees not deduplicated: %v", got.AssigneeIDs)
	}
}

func TestLateAssignmentBreachesFirstResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{Priority: sla.PriorityUrgente})
	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.SetAssignees(ctx, tk.ID, []string{"agent-9"}, admin); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c := f.cycles(t, tk.ID)[0]; !c.FirstResponseBreached {
		t.Fatalf("expected first response breach: %+v", c)
	}
	// the assignee can now see the ticket
	if _, err := f.svc.GetTicket(ctx, tk.ID, lifecycle.Actor{ID: "agent-9"}); err != nil {
		t.Fatalf("assignee visibility: %v", err)
	}
}

func (f *fixture) approvalCategory(mode lifecycle.ApprovalMode, ids ...string) *string {
	id := "cat-" + string(mode)
	f.store.PutCategory(lifecycle.Category{ID: id, Name: "Acesso", RequiresApproval: true, ApprovalMode: mode, ApproverIDs: ids})
	return &id
}

func TestApprovalApproveResumesCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{CategoryID: f.approvalCategory(lifecycle.ModeSpecificUsers, "boss-1")})
	if tk.Status != lifecycle.StatusAguardandoAprovacao {
		t.Fatalf("expected approval status, got %s", tk.Status)
	}
	if c := f.cycles(t, tk.ID)[0]; !c.Paused() {
		t.Fatalf("cycle must be paused while approval is pending")
	}
	if _, err := f.svc.GetTicket(ctx, tk.ID, lifecycle.Actor{ID: "boss-1"}); err != nil {
		t.Fatalf("approver visibility: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusEmAndamento, admin); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("approval must be decided, got %v", err)
	}
	if _, err := f.svc.DecideApproval(ctx, tk.ID, stranger, lifecycle.DecisionApprove, ""); !errors.Is(err, lifecycle.ErrNotApprover) {
		t.Fatalf("expected not approver, got %v", err)
	}

	f.clock.Advance(48 * time.Hour)
	a, err := f.svc.DecideApproval(ctx, tk.ID, lifecycle.Actor{ID: "boss-1"}, lifecycle.DecisionApprove, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if a.Status != lifecycle.ApprovalApproved || *a.DecidedBy != "boss-1" || *a.Note != "ok" {
		t.Fatalf("unexpected approval: %+v", a)
	}
	got, _ := f.store.GetTicket(ctx, tk.ID)
	if got.Status != lifecycle.StatusEmAndamento {
		t.Fatalf("expected EM_ANDAMENTO, got %s", got.Status)
	}
	if c := f.cycles(t, tk.ID)[0]; c.Paused() || !c.Active() {
		t.Fatalf("cycle must resume: %+v", c)
	}
	if _, err := f.svc.DecideApproval(ctx, tk.ID, lifecycle.Actor{ID: "boss-1"}, lifecycle.DecisionReject, ""); !errors.Is(err, lifecycle.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestApprovalRejectCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{CategoryID: f.approvalCategory(lifecycle.ModeRequesterCoordinator)})
	if _, err := f.svc.DecideApproval(ctx, tk.ID, lifecycle.Actor{ID: "coord-1"}, lifecycle.DecisionReject, "no budget"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := f.store.GetTicket(ctx, tk.ID)
	if got.Status != lifecycle.StatusCancelado || got.ClosedAt == nil {
		t.Fatalf("expected cancelled ticket: %+v", got)
	}
	if c := f.cycles(t, tk.ID)[0]; c.Active() || c.Paused() {
		t.Fatalf("cycle must be closed: %+v", c)
	}
}

func TestCancelWithdrawsPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boss := lifecycle.Actor{ID: "boss-1"}
	tk := f.create(t, lifecycle.CreateInput{CategoryID: f.approvalCategory(lifecycle.ModeSpecificUsers, boss.ID)})
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusCancelado, admin); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	a, err := f.store.LatestApproval(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != lifecycle.ApprovalRejected || a.DecidedBy == nil || *a.DecidedBy != admin.ID || a.Note == nil || a.DecidedAt == nil {
		t.Fatalf("approval must be closed by the cancelling admin: %+v", a)
	}

	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAberto, admin); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.svc.DecideApproval(ctx, tk.ID, boss, lifecycle.DecisionApprove, ""); !errors.Is(err, lifecycle.ErrAlreadyDecided) {
		t.Fatalf("expected already decided after reopen, got %v", err)
	}
	if _, err := f.svc.GetTicket(ctx, tk.ID, boss); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("withdrawn approver must lose access, got %v", err)
	}
	if pending, _ := f.svc.PendingApprovals(ctx, boss); len(pending) != 0 {
		t.Fatalf("nothing should be pending: %+v", pending)
	}
}

func TestDeciderKeepsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{CategoryID: f.approvalCategory(lifecycle.ModeSpecificUsers, "boss-1", "boss-2")})
	if _, err := f.svc.DecideApproval(ctx, tk.ID, lifecycle.Actor{ID: "boss-1"}, lifecycle.DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.GetTicket(ctx, tk.ID, lifecycle.Actor{ID: "boss-1"}); err != nil {
		t.Fatalf("decider visibility: %v", err)
	}
	if _, err := f.svc.GetTicket(ctx, tk.ID, lifecycle.Actor{ID: "boss-2"}); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("other approver after decision: %v", err)
	}
}

func TestPendingApprovalsForApprover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coord := lifecycle.Actor{ID: "coord-1", SectorID: "fin"}
	first := f.create(t, lifecycle.CreateInput{Title: "vpn access", CategoryID: f.approvalCategory(lifecycle.ModeRequesterCoordinator)})
	f.clock.Advance(time.Minute)
	f.create(t, lifecycle.CreateInput{Title: "license", CategoryID: f.approvalCategory(lifecycle.ModeSpecificUsers, "boss-1")})
	f.clock.Advance(time.Minute)
	second := f.create(t, lifecycle.CreateInput{Title: "new laptop", CategoryID: f.approvalCategory(lifecycle.ModeRequesterCoordinator)})
	f.create(t, lifecycle.CreateInput{Title: "printer"})

	got, err := f.svc.PendingApprovals(ctx, coord)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("unexpected pending list: %+v", got)
	}
	if none, _ := f.svc.PendingApprovals(ctx, stranger); len(none) != 0 {
		t.Fatalf("stranger has nothing to decide: %+v", none)
	}
	if listed, _ := f.svc.ListTickets(ctx, lifecycle.ListFilter{}, coord); len(listed) != 0 {
		t.Fatalf("approvers are not creators or assignees: %+v", listed)
	}

	if _, err := f.svc.DecideApproval(ctx, first.ID, coord, lifecycle.DecisionReject, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ = f.svc.PendingApprovals(ctx, coord)
	if len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("decided tickets must drop out: %+v", got)
	}
}

func TestApprovalViaStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plain := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.UpdateStatus(ctx, plain.ID, lifecycle.StatusAguardandoAprovacao, admin); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error without approval category, got %v", err)
	}

	cat := f.approvalCategory(lifecycle.ModeTIAdmin)
	tk := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.UpdateCategory(ctx, tk.ID, cat, admin); err != nil {
		t.Fatalf("category: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, tk.ID, lifecycle.StatusAguardandoAprovacao, admin); err != nil {
		t.Fatalf("status: %v", err)
	}
	if c := f.cycles(t, tk.ID)[0]; !c.Paused() {
		t.Fatalf("cycle must pause")
	}
	a, err := f.store.LatestApproval(ctx, tk.ID)
	if err != nil || a.Status != lifecycle.ApprovalPending || a.Mode != lifecycle.ModeTIAdmin {
		t.Fatalf("unexpected approval: %+v %v", a, err)
	}
	if _, err := f.svc.DecideApproval(ctx, tk.ID, admin, lifecycle.DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestApprovalWithoutApproversRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTicket(context.Background(), lifecycle.CreateInput{Title: "x", CategoryID: f.approvalCategory(lifecycle.ModeSpecificUsers)}, requester)
	if !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListTicketsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.CreateTicket(ctx, lifecycle.CreateInput{Title: "other"}, stranger); err != nil {
		t.Fatalf("create: %v", err)
	}
	mine, _ := f.svc.ListTickets(ctx, lifecycle.ListFilter{}, requester)
	all, _ := f.svc.ListTickets(ctx, lifecycle.ListFilter{}, admin)
	if len(mine) != 1 || len(all) != 2 {
		t.Fatalf("unexpected listing: mine=%d all=%d", len(mine), len(all))
	}
	if _, err := f.svc.Cycles(ctx, mine[0].ID, stranger); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestHistoryHidesInternalComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, lifecycle.CreateInput{})
	if _, err := f.svc.AddComment(ctx, tk.ID, admin, "triage note", true); err != nil {
		t.Fatalf("comment: %v", err)
	}
	mine, err := f.svc.History(ctx, tk.ID, requester)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	all, _ := f.svc.History(ctx, tk.ID, admin)
	// created, comment_added, first_response
	if len(mine) != 2 || len(all) != 3 {
		t.Fatalf("unexpected events: mine=%d all=%d", len(mine), len(all))
	}
	if _, err := f.svc.History(ctx, tk.ID, stranger); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
