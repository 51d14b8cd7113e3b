package sla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx used by the policy table helpers.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Priority is the closed set of ticket priorities.
type Priority string

const (
	PriorityBaixa   Priority = "BAIXA"
	PriorityMedia   Priority = "MEDIA"
	PriorityAlta    Priority = "ALTA"
	PriorityUrgente Priority = "URGENTE"
)

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{PriorityBaixa, PriorityMedia, PriorityAlta, PriorityUrgente}

func (p Priority) Valid() bool {
	switch p {
	case PriorityBaixa, PriorityMedia, PriorityAlta, PriorityUrgente:
		return true
	}
	return false
}

// ParsePriority accepts a priority name in any case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Targets holds the SLA targets for one priority, in business minutes.
type Targets struct {
	FirstResponseMinutes int `json:"first_response_minutes"`
	ResolutionMinutes    int `json:"resolution_minutes"`
}

// DefaultTargets applies when no active policy row exists for a priority.
var DefaultTargets = map[Priority]Targets{
	PriorityUrgente: {FirstResponseMinutes: 60, ResolutionMinutes: 480},
	PriorityAlta:    {FirstResponseMinutes: 240, ResolutionMinutes: 1440},
	PriorityMedia:   {FirstResponseMinutes: 480, ResolutionMinutes: 4320},
	PriorityBaixa:   {FirstResponseMinutes: 1440, ResolutionMinutes: 10080},
}

// Policy represents an SLA policy row.
type Policy struct {
	Priority             Priority  `json:"priority"`
	FirstResponseMinutes int       `json:"first_response_minutes"`
	ResolutionMinutes    int       `json:"resolution_minutes"`
	IsActive             bool      `json:"is_active"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ListPolicies returns all SLA policies.
func ListPolicies(ctx context.Context, db DB) ([]Policy, error) {
	rows, err := db.Query(ctx, `select priority, first_response_minutes, resolution_minutes, is_active, updated_at from ticket_sla_policies order by priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		var p Policy
		var prio string
		if err := rows.Scan(&prio, &p.FirstResponseMinutes, &p.ResolutionMinutes, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Priority = Priority(prio)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActivePolicy returns the active policy for priority. ok is false when there
// is none.
func ActivePolicy(ctx context.Context, db DB, priority Priority) (Policy, bool, error) {
	p := Policy{Priority: priority}
	err := db.QueryRow(ctx, `select first_response_minutes, resolution_minutes, is_active, updated_at from ticket_sla_policies where priority=$1 and is_active`, string(priority)).
		Scan(&p.FirstResponseMinutes, &p.ResolutionMinutes, &p.IsActive, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

// UpsertPolicy creates or replaces the policy for p.Priority.
func UpsertPolicy(ctx context.Context, db DB, p Policy) error {
	if !p.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", p.Priority)
	}
	if p.FirstResponseMinutes <= 0 || p.ResolutionMinutes <= 0 {
		return errors.New("sla targets must be positive")
	}
	_, err := db.Exec(ctx, `insert into ticket_sla_policies (priority, first_response_minutes, resolution_minutes, is_active, updated_at)
values ($1, $2, $3, $4, now())
on conflict (priority) do update set first_response_minutes=excluded.first_response_minutes,
    resolution_minutes=excluded.resolution_minutes, is_active=excluded.is_active, updated_at=now()`,
		string(p.Priority), p.FirstResponseMinutes, p.ResolutionMinutes, p.IsActive)
	return err
}

// DueDates are the deadlines of a fresh cycle.
type DueDates struct {
	FirstResponseDueAt time.Time
	ResolutionDueAt    time.Time
}

// Resolver turns a priority into cycle deadlines.
type Resolver struct {
	DB       DB
	Calendar *Calendar
}

// TargetsFor returns the targets for priority: the active policy when present,
// DefaultTargets otherwise. A nil DB always uses the defaults.
func (r Resolver) TargetsFor(ctx context.Context, priority Priority) (Targets, error) {
	if r.DB != nil {
		p, ok, err := ActivePolicy(ctx, r.DB, priority)
		if err != nil {
			return Targets{}, err
		}
		if ok && p.FirstResponseMinutes > 0 && p.ResolutionMinutes > 0 {
			return Targets{FirstResponseMinutes: p.FirstResponseMinutes, ResolutionMinutes: p.ResolutionMinutes}, nil
		}
	}
	t, ok := DefaultTargets[priority]
	if !ok {
		t = DefaultTargets[PriorityMedia]
	}
	return t, nil
}

// ComputeDueDates adds the priority targets to openedAt in business minutes.
func (r Resolver) ComputeDueDates(ctx context.Context, openedAt time.Time, priority Priority) (DueDates, error) {
	t, err := r.TargetsFor(ctx, priority)
	if err != nil {
		return DueDates{}, err
	}
	cal := r.Calendar
	if cal == nil {
		cal = DefaultCalendar()
	}
	return DueDates{
		FirstResponseDueAt: cal.AddBusinessMinutes(openedAt, t.FirstResponseMinutes),
		ResolutionDueAt:    cal.AddBusinessMinutes(openedAt, t.ResolutionMinutes),
	}, nil
}
