package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/intranet-portal/internal/audit"
	"github.com/mark3748/intranet-portal/internal/sla"
)

// Live event types published after a mutation commits.
const (
	EventTicketCreated   = "ticket_created"
	EventTicketUpdated   = "ticket_updated"
	EventCommentAdded    = "comment_added"
	EventInternalComment = "internal_comment_added"
	EventApprovalDecided = "approval_decided"
	EventSLAUpdated      = "sla_updated"
)

// Service owns every ticket mutation that affects status or SLA cycles.
type Service struct {
	Store     Store
	Directory Directory
	Due       DueDateComputer
	Approvers ApproverResolver
	Audit     audit.Sink
	Events    Publisher
	// TargetSector is the name of the sector new tickets are routed to when
	// the request does not name one.
	TargetSector string
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// effect is a post-commit side effect: an audit entry plus a live event.
type effect struct {
	ticketID string
	action   string
	diff     map[string]any
	event    string
	payload  any
}

func (s *Service) apply(ctx context.Context, actor Actor, effects []effect) {
	ri := audit.FromContext(ctx)
	for _, e := range effects {
		audit.Log(ctx, s.Audit, audit.Entry{
			ActorID:    actor.ID,
			EntityType: "ticket",
			EntityID:   e.ticketID,
			Action:     e.action,
			Diff:       e.diff,
			IP:         ri.IP,
			UA:         ri.UA,
		})
		if s.Events != nil && e.event != "" {
			s.Events.Publish(ctx, e.event, e.payload)
		}
	}
}

func (s *Service) record(ctx context.Context, st Store, ticketID, typ, actorID string, data map[string]any, now time.Time) error {
	if err := st.RecordEvent(ctx, Event{TicketID: ticketID, Type: typ, ActorID: actorID, Data: data, CreatedAt: now}); err != nil {
		return fmt.Errorf("record %s event: %w", typ, err)
	}
	return nil
}

// CreateTicket opens a ticket with SLA cycle #1. Tickets in a category that
// requires approval start in AGUARDANDO_APROVACAO with a paused cycle.
func (s *Service) CreateTicket(ctx context.Context, in CreateInput, actor Actor) (Ticket, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Ticket{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = sla.PriorityMedia
	}
	if !in.Priority.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	target := in.TargetSectorID
	if target == "" {
		id, err := s.Directory.SectorIDByName(ctx, s.TargetSector)
		if err != nil {
			return Ticket{}, fmt.Errorf("resolve target sector %q: %w", s.TargetSector, err)
		}
		target = id
	}
	now := s.now()
	t := Ticket{
		ID:                uuid.NewString(),
		Title:             in.Title,
		Description:       in.Description,
		Status:            StatusAberto,
		Priority:          in.Priority,
		RequesterSectorID: actor.SectorID,
		TargetSectorID:    target,
		CategoryID:        in.CategoryID,
		CreatedBy:         actor.ID,
		Tags:              in.Tags,
		AssigneeIDs:       []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	var approval *Approval
	if in.CategoryID != nil {
		cat, err := s.Store.GetCategory(ctx, *in.CategoryID)
		if errors.Is(err, ErrNotFound) {
			return Ticket{}, fmt.Errorf("%w: unknown category", ErrValidation)
		}
		if err != nil {
			return Ticket{}, err
		}
		if cat.RequiresApproval {
			a, err := s.newApproval(ctx, t, cat, now)
			if err != nil {
				return Ticket{}, err
			}
			approval = &a
			t.Status = StatusAguardandoAprovacao
		}
	}

	due, err := s.Due.ComputeDueDates(ctx, now, t.Priority)
	if err != nil {
		return Ticket{}, fmt.Errorf("compute due dates: %w", err)
	}
	cycle := sla.NewCycle(t.ID, 1, now, due)
	if approval != nil {
		cycle.Pause(now)
	}

	err = s.Store.InTx(ctx, func(st Store) error {
		if err := st.InsertTicket(ctx, t); err != nil {
			return err
		}
		if err := st.InsertCycle(ctx, cycle); err != nil {
			return err
		}
		if err := s.record(ctx, st, t.ID, "created", actor.ID, map[string]any{"priority": t.Priority, "cycle_number": 1}, now); err != nil {
			return err
		}
		if approval != nil {
			if err := st.InsertApproval(ctx, *approval); err != nil {
				return err
			}
			return s.record(ctx, st, t.ID, "approval_requested", actor.ID, map[string]any{"mode": approval.Mode}, now)
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	s.apply(ctx, actor, []effect{{ticketID: t.ID, action: "create", diff: map[string]any{"title": t.Title, "status": t.Status}, event: EventTicketCreated, payload: t}})
	return t, nil
}

// newApproval snapshots the category configuration into a pending approval.
// A category whose approver set resolves empty is rejected up front so the
// ticket cannot get stuck.
func (s *Service) newApproval(ctx context.Context, t Ticket, cat Category, now time.Time) (Approval, error) {
	a := Approval{
		ID:          uuid.NewString(),
		TicketID:    t.ID,
		Mode:        cat.ApprovalMode,
		ApproverIDs: cat.ApproverIDs,
		Status:      ApprovalPending,
		CreatedAt:   now,
	}
	ids, err := s.Approvers.Approvers(ctx, t, a)
	if err != nil {
		return Approval{}, err
	}
	if len(ids) == 0 {
		return Approval{}, fmt.Errorf("%w: category %s has no approvers", ErrValidation, cat.Name)
	}
	return a, nil
}

// UpdateStatus moves a ticket through the state machine and applies the
// cycle side effects of the move. Admin only.
func (s *Service) UpdateStatus(ctx context.Context, ticketID string, to Status, actor Actor) (Ticket, error) {
	if !actor.IsAdmin {
		return Ticket{}, ErrForbidden
	}
	if !to.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	now := s.now()
	var out Ticket
	var from Status
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		from = t.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if from == StatusAguardandoAprovacao && to == StatusEmAndamento {
			return fmt.Errorf("%w: pending approval must be decided", ErrInvalidTransition)
		}

		var approval *Approval
		if to == StatusAguardandoAprovacao {
			a, err := s.approvalFor(ctx, st, t, now)
			if err != nil {
				return err
			}
			approval = &a
		}

		var closedAt *time.Time
		if to.Closed() {
			closedAt = &now
		}
		out, err = st.TransitionStatus(ctx, ticketID, []Status{from}, to, closedAt, now)
		if err != nil {
			return err
		}

		data := map[string]any{"from": from, "to": to}
		switch {
		case to == StatusResolvido:
			if err := s.endCycle(ctx, st, ticketID, now, true); err != nil {
				return err
			}
		case to == StatusCancelado:
			if from == StatusAguardandoAprovacao {
				if err := s.withdrawApproval(ctx, st, ticketID, actor, now); err != nil {
					return err
				}
			}
			if err := s.endCycle(ctx, st, ticketID, now, false); err != nil {
				return err
			}
		case from.Closed() && to == StatusAberto:
			n, err := s.reopen(ctx, st, out, now)
			if err != nil {
				return err
			}
			data["cycle_number"] = n
		case to == StatusAguardandoAprovacao:
			if err := st.InsertApproval(ctx, *approval); err != nil {
				return err
			}
			if err := s.pauseCycle(ctx, st, ticketID, now); err != nil {
				return err
			}
			data["approval_mode"] = approval.Mode
		}
		return s.record(ctx, st, ticketID, "status_changed", actor.ID, data, now)
	})
	if err != nil {
		return Ticket{}, err
	}
	s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "status", diff: map[string]any{"from": from, "to": to}, event: EventTicketUpdated, payload: out}})
	return out, nil
}

func (s *Service) approvalFor(ctx context.Context, st Store, t Ticket, now time.Time) (Approval, error) {
	if t.CategoryID == nil {
		return Approval{}, fmt.Errorf("%w: ticket has no category requiring approval", ErrValidation)
	}
	cat, err := st.GetCategory(ctx, *t.CategoryID)
	if err != nil {
		return Approval{}, err
	}
	if !cat.RequiresApproval {
		return Approval{}, fmt.Errorf("%w: category %s does not require approval", ErrValidation, cat.Name)
	}
	return s.newApproval(ctx, t, cat, now)
}

// withdrawApproval rejects the pending approval of a ticket an admin cancels
// before any approver decided.
func (s *Service) withdrawApproval(ctx context.Context, st Store, ticketID string, actor Actor, now time.Time) error {
	a, err := st.LatestApproval(ctx, ticketID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.Status != ApprovalPending {
		return nil
	}
	note := "ticket cancelled before decision"
	decider := actor.ID
	a.Status = ApprovalRejected
	a.Note = &note
	a.DecidedBy = &decider
	a.DecidedAt = &now
	return st.DecideApproval(ctx, a)
}

// endCycle resolves (or, for cancellation, closes) the active cycle.
func (s *Service) endCycle(ctx context.Context, st Store, ticketID string, now time.Time, resolve bool) error {
	c, err := st.LatestCycle(ctx, ticketID)
	if errors.Is(err, ErrNotFound) {
		log.Ctx(ctx).Warn().Str("ticket", ticketID).Msg("closing ticket without sla cycle")
		return nil
	}
	if err != nil {
		return err
	}
	changed := false
	if resolve {
		changed = c.Resolve(now)
	} else {
		changed = c.Close(now)
	}
	if !changed {
		return nil
	}
	return st.UpdateCycle(ctx, c)
}

// reopen appends a new cycle numbered after the latest one with deadlines
// computed from now and the current priority.
func (s *Service) reopen(ctx context.Context, st Store, t Ticket, now time.Time) (int, error) {
	next := 1
	prev, err := st.LatestCycle(ctx, t.ID)
	switch {
	case err == nil:
		next = prev.Number + 1
	case errors.Is(err, ErrNotFound):
	default:
		return 0, err
	}
	due, err := s.Due.ComputeDueDates(ctx, now, t.Priority)
	if err != nil {
		return 0, fmt.Errorf("compute due dates: %w", err)
	}
	if err := st.InsertCycle(ctx, sla.NewCycle(t.ID, next, now, due)); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) pauseCycle(ctx context.Context, st Store, ticketID string, now time.Time) error {
	c, err := st.LatestCycle(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoCycle
		}
		return err
	}
	if !c.Active() || c.Paused() {
		return nil
	}
	c.Pause(now)
	return st.UpdateCycle(ctx, c)
}

// UpdatePriority changes the priority. Existing cycle deadlines are left as
// they are; the new priority only applies to cycles opened later.
func (s *Service) UpdatePriority(ctx context.Context, ticketID string, p sla.Priority, actor Actor) (Ticket, error) {
	if !actor.IsAdmin {
		return Ticket{}, ErrForbidden
	}
	if !p.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, p)
	}
	now := s.now()
	var out Ticket
	var from sla.Priority
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		from = t.Priority
		if from == p {
			out = t
			return nil
		}
		if err := st.UpdatePriority(ctx, ticketID, p, now); err != nil {
			return err
		}
		t.Priority = p
		t.UpdatedAt = now
		out = t
		return s.record(ctx, st, ticketID, "priority_changed", actor.ID, map[string]any{"from": from, "to": p}, now)
	})
	if err != nil {
		return Ticket{}, err
	}
	if from != p {
		s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "priority", diff: map[string]any{"from": from, "to": p}, event: EventTicketUpdated, payload: out}})
	}
	return out, nil
}

// UpdateCategory reassigns the category. It does not open or close approvals.
func (s *Service) UpdateCategory(ctx context.Context, ticketID string, categoryID *string, actor Actor) (Ticket, error) {
	if !actor.IsAdmin {
		return Ticket{}, ErrForbidden
	}
	if categoryID != nil {
		if _, err := s.Store.GetCategory(ctx, *categoryID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Ticket{}, fmt.Errorf("%w: unknown category", ErrValidation)
			}
			return Ticket{}, err
		}
	}
	now := s.now()
	var out Ticket
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := st.UpdateCategory(ctx, ticketID, categoryID, now); err != nil {
			return err
		}
		t.CategoryID = categoryID
		t.UpdatedAt = now
		out = t
		return s.record(ctx, st, ticketID, "category_changed", actor.ID, map[string]any{"category_id": categoryID}, now)
	})
	if err != nil {
		return Ticket{}, err
	}
	s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "category", diff: map[string]any{"category_id": categoryID}, event: EventTicketUpdated, payload: out}})
	return out, nil
}

// SetAssignees replaces the assignee set. A non-empty assignment counts as
// the first response of the active cycle.
func (s *Service) SetAssignees(ctx context.Context, ticketID string, userIDs []string, actor Actor) (Ticket, error) {
	if !actor.IsAdmin {
		return Ticket{}, ErrForbidden
	}
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id != "" && !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	now := s.now()
	var out Ticket
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := st.SetAssignees(ctx, ticketID, ids, now); err != nil {
			return err
		}
		t.AssigneeIDs = ids
		t.UpdatedAt = now
		out = t
		if err := s.record(ctx, st, ticketID, "assignees_changed", actor.ID, map[string]any{"assignee_ids": ids}, now); err != nil {
			return err
		}
		if len(ids) > 0 {
			return s.captureFirstResponse(ctx, st, ticketID, actor.ID, now)
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}
	s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "assign", diff: map[string]any{"assignee_ids": ids}, event: EventTicketUpdated, payload: out}})
	return out, nil
}

func (s *Service) captureFirstResponse(ctx context.Context, st Store, ticketID, actorID string, now time.Time) error {
	c, err := st.LatestCycle(ctx, ticketID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !c.RecordFirstResponse(now) {
		return nil
	}
	if err := st.UpdateCycle(ctx, c); err != nil {
		return err
	}
	return s.record(ctx, st, ticketID, "first_response", actorID, map[string]any{"cycle_number": c.Number, "breached": c.FirstResponseBreached}, now)
}

// canView reports whether actor may read the ticket: admins, the creator,
// assignees, the resolved approvers of a pending approval and whoever
// decided the latest one.
func (s *Service) canView(ctx context.Context, st Store, t Ticket, actor Actor) (bool, error) {
	if actor.IsAdmin || t.CreatedBy == actor.ID || t.assignedTo(actor.ID) {
		return true, nil
	}
	a, err := st.LatestApproval(ctx, t.ID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.Status != ApprovalPending {
		return a.DecidedBy != nil && *a.DecidedBy == actor.ID, nil
	}
	ids, err := s.Approvers.Approvers(ctx, t, a)
	if err != nil {
		return false, err
	}
	return contains(ids, actor.ID), nil
}

func (s *Service) visible(ctx context.Context, st Store, ticketID string, actor Actor) (Ticket, error) {
	t, err := st.GetTicket(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	ok, err := s.canView(ctx, st, t, actor)
	if err != nil {
		return Ticket{}, err
	}
	if !ok {
		return Ticket{}, ErrForbidden
	}
	return t, nil
}

// gate applies the comment and attachment rules for non-admins.
func gate(t Ticket, actor Actor) error {
	if actor.IsAdmin {
		return nil
	}
	if t.Status != StatusAguardandoUsuario {
		return ErrCommentNotAllowed
	}
	return nil
}

// AddComment appends a comment. An admin comment counts as the first
// response of the active cycle.
func (s *Service) AddComment(ctx context.Context, ticketID string, actor Actor, body string, isInternal bool) (Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, fmt.Errorf("%w: body is required", ErrValidation)
	}
	if isInternal && !actor.IsAdmin {
		return Comment{}, ErrInternalComment
	}
	now := s.now()
	cm := Comment{ID: uuid.NewString(), TicketID: ticketID, AuthorID: actor.ID, Body: body, IsInternal: isInternal, CreatedAt: now}
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		ok, err := s.canView(ctx, st, t, actor)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
		if err := gate(t, actor); err != nil {
			return err
		}
		if err := st.InsertComment(ctx, cm); err != nil {
			return err
		}
		if err := s.record(ctx, st, ticketID, "comment_added", actor.ID, map[string]any{"comment_id": cm.ID, "internal": isInternal}, now); err != nil {
			return err
		}
		if actor.IsAdmin {
			return s.captureFirstResponse(ctx, st, ticketID, actor.ID, now)
		}
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	ev := EventCommentAdded
	if isInternal {
		ev = EventInternalComment
	}
	s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "comment_add", diff: map[string]any{"comment_id": cm.ID}, event: ev, payload: cm}})
	return cm, nil
}

// CanAttach reports, as an error, whether actor may upload an attachment now.
func (s *Service) CanAttach(ctx context.Context, ticketID string, actor Actor) error {
	t, err := s.visible(ctx, s.Store, ticketID, actor)
	if err != nil {
		return err
	}
	return gate(t, actor)
}

// ListComments returns the ticket's comments; internal ones only for admins.
func (s *Service) ListComments(ctx context.Context, ticketID string, actor Actor) ([]Comment, error) {
	if _, err := s.visible(ctx, s.Store, ticketID, actor); err != nil {
		return nil, err
	}
	return s.Store.ListComments(ctx, ticketID, actor.IsAdmin)
}

// DecideApproval records an approver's verdict on the pending approval.
// Approval resumes the paused cycle and moves the ticket to EM_ANDAMENTO;
// rejection cancels the ticket and closes the cycle.
func (s *Service) DecideApproval(ctx context.Context, ticketID string, actor Actor, d Decision, note string) (Approval, error) {
	var to Status
	var status ApprovalStatus
	switch d {
	case DecisionApprove:
		to, status = StatusEmAndamento, ApprovalApproved
	case DecisionReject:
		to, status = StatusCancelado, ApprovalRejected
	default:
		return Approval{}, fmt.Errorf("%w: unknown decision %q", ErrValidation, d)
	}
	now := s.now()
	var out Approval
	var ticket Ticket
	err := s.Store.InTx(ctx, func(st Store) error {
		t, err := st.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		a, err := st.LatestApproval(ctx, ticketID)
		if err != nil {
			return err
		}
		if a.Status != ApprovalPending {
			return ErrAlreadyDecided
		}
		ids, err := s.Approvers.Approvers(ctx, t, a)
		if err != nil {
			return err
		}
		if !contains(ids, actor.ID) {
			return ErrNotApprover
		}
		a.Status = status
		if n := strings.TrimSpace(note); n != "" {
			a.Note = &n
		}
		decider := actor.ID
		a.DecidedBy = &decider
		a.DecidedAt = &now
		if err := st.DecideApproval(ctx, a); err != nil {
			return err
		}

		var closedAt *time.Time
		if to.Closed() {
			closedAt = &now
		}
		ticket, err = st.TransitionStatus(ctx, ticketID, []Status{StatusAguardandoAprovacao}, to, closedAt, now)
		if err != nil {
			return err
		}
		c, err := st.LatestCycle(ctx, ticketID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case d == DecisionApprove:
			c.Resume()
			if err := st.UpdateCycle(ctx, c); err != nil {
				return err
			}
		default:
			if c.Close(now) {
				if err := st.UpdateCycle(ctx, c); err != nil {
					return err
				}
			}
		}
		out = a
		return s.record(ctx, st, ticketID, "approval_decided", actor.ID, map[string]any{"decision": d, "status": to}, now)
	})
	if err != nil {
		return Approval{}, err
	}
	s.apply(ctx, actor, []effect{
		{ticketID: ticketID, action: "approval_" + string(d), diff: map[string]any{"approval_id": out.ID, "note": out.Note}, event: EventApprovalDecided, payload: out},
		{ticketID: ticketID, event: EventTicketUpdated, action: "status", diff: map[string]any{"from": StatusAguardandoAprovacao, "to": to}, payload: ticket},
	})
	return out, nil
}

// SetManualResolutionDeadline overrides the resolution deadline of the active
// cycle. Later cycles get computed deadlines again.
func (s *Service) SetManualResolutionDeadline(ctx context.Context, ticketID string, dueAt time.Time, reason string, actor Actor) (sla.Cycle, error) {
	if !actor.IsAdmin {
		return sla.Cycle{}, ErrForbidden
	}
	if dueAt.IsZero() {
		return sla.Cycle{}, fmt.Errorf("%w: due date is required", ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	now := s.now()
	var out sla.Cycle
	err := s.Store.InTx(ctx, func(st Store) error {
		if _, err := st.LockTicket(ctx, ticketID); err != nil {
			return err
		}
		c, err := st.LatestCycle(ctx, ticketID)
		if errors.Is(err, ErrNotFound) {
			return ErrNoCycle
		}
		if err != nil {
			return err
		}
		if !c.Active() {
			return ErrNoActiveCycle
		}
		prev := c.ResolutionDueAt
		c.OverrideResolutionDue(dueAt, reason, actor.ID, now)
		if err := st.UpdateCycle(ctx, c); err != nil {
			return err
		}
		out = c
		return s.record(ctx, st, ticketID, "sla_deadline_overridden", actor.ID, map[string]any{
			"cycle_number": c.Number, "previous_due_at": prev, "resolution_due_at": dueAt, "reason": reason,
		}, now)
	})
	if err != nil {
		return sla.Cycle{}, err
	}
	s.apply(ctx, actor, []effect{{ticketID: ticketID, action: "sla_override", diff: map[string]any{"resolution_due_at": dueAt, "reason": reason}, event: EventSLAUpdated, payload: out}})
	return out, nil
}

// GetTicket returns a ticket visible to actor.
func (s *Service) GetTicket(ctx context.Context, ticketID string, actor Actor) (Ticket, error) {
	return s.visible(ctx, s.Store, ticketID, actor)
}

// Cycles returns the ticket's SLA cycle history, oldest first.
func (s *Service) Cycles(ctx context.Context, ticketID string, actor Actor) ([]sla.Cycle, error) {
	if _, err := s.visible(ctx, s.Store, ticketID, actor); err != nil {
		return nil, err
	}
	return s.Store.ListCycles(ctx, ticketID)
}

// History returns the ticket's history. Events about internal comments are
// dropped for non-admins.
func (s *Service) History(ctx context.Context, ticketID string, actor Actor) ([]Event, error) {
	if _, err := s.visible(ctx, s.Store, ticketID, actor); err != nil {
		return nil, err
	}
	evs, err := s.Store.ListEvents(ctx, ticketID)
	if err != nil || actor.IsAdmin {
		return evs, err
	}
	out := evs[:0]
	for _, ev := range evs {
		if internal, _ := ev.Data["internal"].(bool); internal {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// LatestApproval returns the ticket's most recent approval.
func (s *Service) LatestApproval(ctx context.Context, ticketID string, actor Actor) (Approval, error) {
	if _, err := s.visible(ctx, s.Store, ticketID, actor); err != nil {
		return Approval{}, err
	}
	return s.Store.LatestApproval(ctx, ticketID)
}

// PendingApprovals lists the tickets waiting on a decision actor may take,
// oldest request first.
func (s *Service) PendingApprovals(ctx context.Context, actor Actor) ([]Ticket, error) {
	pending, err := s.Store.PendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	out := []Ticket{}
	for _, a := range pending {
		t, err := s.Store.GetTicket(ctx, a.TicketID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.Status != StatusAguardandoAprovacao {
			continue
		}
		ids, err := s.Approvers.Approvers(ctx, t, a)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("ticket", t.ID).Msg("resolve approvers")
			continue
		}
		if contains(ids, actor.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListTickets lists tickets; non-admins only see their own or assigned ones.
func (s *Service) ListTickets(ctx context.Context, f ListFilter, actor Actor) ([]Ticket, error) {
	if !actor.IsAdmin {
		f.VisibleTo = actor.ID
	}
	switch {
	case f.Limit <= 0:
		f.Limit = 50
	case f.Limit > 200:
		f.Limit = 200
	}
	return s.Store.ListTickets(ctx, f)
}
