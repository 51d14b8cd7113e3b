package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/sla"
)

const ticketColumns = `t.id::text, t.title, t.description, t.status, t.priority,
       coalesce(t.requester_sector_id::text, ''), coalesce(t.target_sector_id::text, ''), t.category_id::text,
       t.created_by::text, t.tags,
       array(select ta.user_id::text from ticket_assignees ta where ta.ticket_id = t.id order by ta.user_id),
       t.created_at, t.updated_at, t.closed_at`

func scanTicket(row pgx.Row) (lifecycle.Ticket, error) {
	var t lifecycle.Ticket
	var status, priority string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&t.RequesterSectorID, &t.TargetSectorID, &t.CategoryID,
		&t.CreatedBy, &t.Tags, &t.AssigneeIDs,
		&t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
	if err != nil {
		return lifecycle.Ticket{}, mapErr(err)
	}
	t.Status = lifecycle.Status(status)
	t.Priority = sla.Priority(priority)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.AssigneeIDs == nil {
		t.AssigneeIDs = []string{}
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (lifecycle.Ticket, error) {
	return scanTicket(s.db.QueryRow(ctx, `select `+ticketColumns+` from tickets t where t.id = $1`, id))
}

func (s *Store) LockTicket(ctx context.Context, id string) (lifecycle.Ticket, error) {
	return scanTicket(s.db.QueryRow(ctx, `select `+ticketColumns+` from tickets t where t.id = $1 for update`, id))
}

func (s *Store) ListTickets(ctx context.Context, f lifecycle.ListFilter) ([]lifecycle.Ticket, error) {
	where := []string{}
	args := []any{}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, v := range f.Statuses {
			ss[i] = string(v)
		}
		args = append(args, ss)
		where = append(where, fmt.Sprintf("t.status = any($%d)", len(args)))
	}
	if len(f.Priorities) > 0 {
		ps := make([]string, len(f.Priorities))
		for i, v := range f.Priorities {
			ps[i] = string(v)
		}
		args = append(args, ps)
		where = append(where, fmt.Sprintf("t.priority = any($%d)", len(args)))
	}
	if f.VisibleTo != "" {
		args = append(args, f.VisibleTo)
		n := len(args)
		where = append(where, fmt.Sprintf("(t.created_by = $%d or exists (select 1 from ticket_assignees ta where ta.ticket_id = t.id and ta.user_id = $%d))", n, n))
	}
	q := `select ` + ticketColumns + ` from tickets t`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" order by t.created_at desc limit $%d", len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []lifecycle.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertTicket(ctx context.Context, t lifecycle.Ticket) error {
	_, err := s.db.Exec(ctx, `insert into tickets (id, title, description, status, priority, requester_sector_id, target_sector_id,
        category_id, created_by, tags, created_at, updated_at)
        values ($1,$2,$3,$4,$5,nullif($6,'')::uuid,nullif($7,'')::uuid,$8,$9,$10,$11,$12)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.RequesterSectorID, t.TargetSectorID,
		t.CategoryID, t.CreatedBy, t.Tags, t.CreatedAt, t.UpdatedAt)
	return mapErr(err)
}

// TransitionStatus updates the status only while it is one of from.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []lifecycle.Status, to lifecycle.Status, closedAt *time.Time, now time.Time) (lifecycle.Ticket, error) {
	fs := make([]string, len(from))
	for i, v := range from {
		fs[i] = string(v)
	}
	tag, err := s.db.Exec(ctx, `update tickets set status = $2, closed_at = $3, updated_at = $4
        where id = $1 and status = any($5)`, id, string(to), closedAt, now, fs)
	if err != nil {
		return lifecycle.Ticket{}, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTicket(ctx, id); err != nil {
			return lifecycle.Ticket{}, err
		}
		return lifecycle.Ticket{}, fmt.Errorf("%w: status changed concurrently", lifecycle.ErrInvalidTransition)
	}
	return s.GetTicket(ctx, id)
}

func (s *Store) UpdatePriority(ctx context.Context, id string, p sla.Priority, now time.Time) error {
	return s.execOne(ctx, `update tickets set priority = $2, updated_at = $3 where id = $1`, id, string(p), now)
}

func (s *Store) UpdateCategory(ctx context.Context, id string, categoryID *string, now time.Time) error {
	return s.execOne(ctx, `update tickets set category_id = $2, updated_at = $3 where id = $1`, id, categoryID, now)
}

func (s *Store) SetAssignees(ctx context.Context, id string, userIDs []string, now time.Time) error {
	if _, err := s.db.Exec(ctx, `delete from ticket_assignees where ticket_id = $1`, id); err != nil {
		return err
	}
	if len(userIDs) > 0 {
		if _, err := s.db.Exec(ctx, `insert into ticket_assignees (ticket_id, user_id)
            select $1, unnest($2::text[])::uuid`, id, userIDs); err != nil {
			return mapErr(err)
		}
	}
	return s.execOne(ctx, `update tickets set updated_at = $2 where id = $1`, id, now)
}

func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}
