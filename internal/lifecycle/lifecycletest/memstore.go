// Package lifecycletest provides in-memory collaborators for exercising
// lifecycle.Service without Postgres or Redis.
package lifecycletest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mark3748/intranet-portal/internal/audit"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/sla"
)

type data struct {
	tickets    map[string]lifecycle.Ticket
	cycles     map[string][]sla.Cycle
	categories map[string]lifecycle.Category
	approvals  map[string][]lifecycle.Approval
	comments   map[string][]lifecycle.Comment
	events     []lifecycle.Event
}

func (d data) clone() data {
	out := data{
		tickets:    map[string]lifecycle.Ticket{},
		cycles:     map[string][]sla.Cycle{},
		categories: d.categories,
		approvals:  map[string][]lifecycle.Approval{},
		comments:   map[string][]lifecycle.Comment{},
		events:     append([]lifecycle.Event(nil), d.events...),
	}
	for k, v := range d.tickets {
		out.tickets[k] = v
	}
	for k, v := range d.cycles {
		out.cycles[k] = append([]sla.Cycle(nil), v...)
	}
	for k, v := range d.approvals {
		out.approvals[k] = append([]lifecycle.Approval(nil), v...)
	}
	for k, v := range d.comments {
		out.comments[k] = append([]lifecycle.Comment(nil), v...)
	}
	return out
}

// MemStore is an in-memory lifecycle.Store. It serializes transactions and
// rolls back on error.
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    data
}

func NewMemStore() *MemStore {
	return &MemStore{d: data{
		tickets:    map[string]lifecycle.Ticket{},
		cycles:     map[string][]sla.Cycle{},
		categories: map[string]lifecycle.Category{},
		approvals:  map[string][]lifecycle.Approval{},
		comments:   map[string][]lifecycle.Comment{},
	}}
}

func (m *MemStore) InTx(ctx context.Context, fn func(lifecycle.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	snap := m.d.clone()
	m.mu.Unlock()
	if err := fn(m); err != nil {
		m.mu.Lock()
		m.d = snap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemStore) GetTicket(ctx context.Context, id string) (lifecycle.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.d.tickets[id]
	if !ok {
		return lifecycle.Ticket{}, lifecycle.ErrNotFound
	}
	return t, nil
}

func (m *MemStore) LockTicket(ctx context.Context, id string) (lifecycle.Ticket, error) {
	return m.GetTicket(ctx, id)
}

func (m *MemStore) ListTickets(ctx context.Context, f lifecycle.ListFilter) ([]lifecycle.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.Ticket
	for _, t := range m.d.tickets {
		if f.VisibleTo != "" && t.CreatedBy != f.VisibleTo && !assigned(t, f.VisibleTo) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) InsertTicket(ctx context.Context, t lifecycle.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.tickets[t.ID] = t
	return nil
}

func (m *MemStore) TransitionStatus(ctx context.Context, id string, from []lifecycle.Status, to lifecycle.Status, closedAt *time.Time, now time.Time) (lifecycle.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.d.tickets[id]
	if !ok {
		return lifecycle.Ticket{}, lifecycle.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if t.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return lifecycle.Ticket{}, lifecycle.ErrInvalidTransition
	}
	t.Status = to
	t.ClosedAt = closedAt
	t.UpdatedAt = now
	m.d.tickets[id] = t
	return t, nil
}

func (m *MemStore) UpdatePriority(ctx context.Context, id string, p sla.Priority, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.d.tickets[id]
	t.Priority = p
	t.UpdatedAt = now
	m.d.tickets[id] = t
	return nil
}

func (m *MemStore) UpdateCategory(ctx context.Context, id string, categoryID *string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.d.tickets[id]
	t.CategoryID = categoryID
	m.d.tickets[id] = t
	return nil
}

func (m *MemStore) SetAssignees(ctx context.Context, id string, userIDs []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.d.tickets[id]
	t.AssigneeIDs = userIDs
	m.d.tickets[id] = t
	return nil
}

func (m *MemStore) LatestCycle(ctx context.Context, ticketID string) (sla.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.d.cycles[ticketID]
	if len(cs) == 0 {
		return sla.Cycle{}, lifecycle.ErrNotFound
	}
	return cs[len(cs)-1], nil
}

func (m *MemStore) ListCycles(ctx context.Context, ticketID string) ([]sla.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sla.Cycle(nil), m.d.cycles[ticketID]...), nil
}

func (m *MemStore) InsertCycle(ctx context.Context, c sla.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.d.cycles[c.TicketID] {
		if ex.Number == c.Number {
			return lifecycle.ErrConflict
		}
	}
	m.d.cycles[c.TicketID] = append(m.d.cycles[c.TicketID], c)
	return nil
}

func (m *MemStore) UpdateCycle(ctx context.Context, c sla.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.d.cycles[c.TicketID]
	for i := range cs {
		if cs[i].Number == c.Number {
			cs[i] = c
			return nil
		}
	}
	return lifecycle.ErrNotFound
}

func (m *MemStore) GetCategory(ctx context.Context, id string) (lifecycle.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.d.categories[id]
	if !ok {
		return lifecycle.Category{}, lifecycle.ErrNotFound
	}
	return c, nil
}

func (m *MemStore) InsertApproval(ctx context.Context, a lifecycle.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.approvals[a.TicketID] = append(m.d.approvals[a.TicketID], a)
	return nil
}

func (m *MemStore) LatestApproval(ctx context.Context, ticketID string) (lifecycle.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as := m.d.approvals[ticketID]
	if len(as) == 0 {
		return lifecycle.Approval{}, lifecycle.ErrNotFound
	}
	return as[len(as)-1], nil
}

func (m *MemStore) DecideApproval(ctx context.Context, a lifecycle.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	as := m.d.approvals[a.TicketID]
	for i := range as {
		if as[i].ID == a.ID {
			if as[i].Status != lifecycle.ApprovalPending {
				return lifecycle.ErrAlreadyDecided
			}
			as[i] = a
			return nil
		}
	}
	return lifecycle.ErrNotFound
}

func (m *MemStore) PendingApprovals(ctx context.Context) ([]lifecycle.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.Approval
	for _, as := range m.d.approvals {
		for _, a := range as {
			if a.Status == lifecycle.ApprovalPending {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) InsertComment(ctx context.Context, c lifecycle.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.comments[c.TicketID] = append(m.d.comments[c.TicketID], c)
	return nil
}

func (m *MemStore) ListComments(ctx context.Context, ticketID string, includeInternal bool) ([]lifecycle.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lifecycle.Comment
	for _, c := range m.d.comments[ticketID] {
		if c.IsInternal && !includeInternal {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemStore) RecordEvent(ctx context.Context, ev lifecycle.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.events = append(m.d.events, ev)
	return nil
}

func (m *MemStore) ListEvents(ctx context.Context, ticketID string) ([]lifecycle.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []lifecycle.Event{}
	for _, ev := range m.d.events {
		if ev.TicketID == ticketID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// PutCategory registers a ticket category.
func (m *MemStore) PutCategory(c lifecycle.Category) {
	m.mu.Lock()
	m.d.categories[c.ID] = c
	m.mu.Unlock()
}

// EventTypes lists the recorded event types of a ticket in order.
func (m *MemStore) EventTypes(ticketID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.d.events {
		if ev.TicketID == ticketID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// Directory is a static lifecycle.Directory.
type Directory struct {
	Admins []string
	// Coordinators and SectorAdminIDs are keyed by sector id.
	Coordinators   map[string][]string
	SectorAdminIDs map[string][]string
	// Sectors maps sector names to ids.
	Sectors map[string]string
}

func (d Directory) AdminIDs(ctx context.Context) ([]string, error) { return d.Admins, nil }
func (d Directory) SectorCoordinators(ctx context.Context, sectorID string) ([]string, error) {
	return d.Coordinators[sectorID], nil
}
func (d Directory) SectorAdmins(ctx context.Context, sectorID string) ([]string, error) {
	return d.SectorAdminIDs[sectorID], nil
}
func (d Directory) SectorIDByName(ctx context.Context, name string) (string, error) {
	id, ok := d.Sectors[name]
	if !ok {
		return "", lifecycle.ErrNotFound
	}
	return id, nil
}

// CalendarDue computes due dates from the fallback targets.
type CalendarDue struct{ Cal *sla.Calendar }

func (c CalendarDue) ComputeDueDates(ctx context.Context, openedAt time.Time, p sla.Priority) (sla.DueDates, error) {
	t := sla.DefaultTargets[p]
	return sla.DueDates{
		FirstResponseDueAt: c.Cal.AddBusinessMinutes(openedAt, t.FirstResponseMinutes),
		ResolutionDueAt:    c.Cal.AddBusinessMinutes(openedAt, t.ResolutionMinutes),
	}, nil
}

type Published struct {
	Type string
	Data any
}

// Publisher records published events.
type Publisher struct {
	mu  sync.Mutex
	out []Published
}

func (p *Publisher) Publish(ctx context.Context, typ string, data any) {
	p.mu.Lock()
	p.out = append(p.out, Published{typ, data})
	p.mu.Unlock()
}

func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.out...)
}

// AuditLog records audit entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *AuditLog) Record(ctx context.Context, e audit.Entry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *AuditLog) Entries() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func assigned(t lifecycle.Ticket, userID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Harness is a Service wired to in-memory collaborators with a fixed clock
// starting Monday 2024-07-01 09:00 in the default calendar's zone. Sector
// "ti" (named "TI") is the helpdesk target; AdminID administers it.
type Harness struct {
	Svc   *lifecycle.Service
	Store *MemStore
	Clock *Clock
	Pub   *Publisher
	Audit *AuditLog
}

const AdminID = "admin-1"

func NewHarness() *Harness {
	cal := sla.DefaultCalendar()
	st := NewMemStore()
	dir := Directory{
		Admins:         []string{AdminID},
		Coordinators:   map[string][]string{"fin": {"coord-1"}},
		SectorAdminIDs: map[string][]string{"ti": {AdminID}},
		Sectors:        map[string]string{"TI": "ti"},
	}
	h := &Harness{
		Store: st,
		Clock: NewClock(time.Date(2024, 7, 1, 9, 0, 0, 0, cal.Location)),
		Pub:   &Publisher{},
		Audit: &AuditLog{},
	}
	h.Svc = &lifecycle.Service{
		Store:        st,
		Directory:    dir,
		Due:          CalendarDue{Cal: cal},
		Approvers:    lifecycle.NewResolvers(dir),
		Audit:        h.Audit,
		Events:       h.Pub,
		TargetSector: "TI",
		Now:          h.Clock.Now,
	}
	return h
}
