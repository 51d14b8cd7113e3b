package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/intranet-portal/internal/escalation"
	"github.com/mark3748/intranet-portal/internal/sla"
)

func (s *Store) NotificationCategoryEnabled(ctx context.Context, key string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `select enabled from notification_categories where key = $1`, key).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		// categories default to enabled until an admin turns them off
		return true, nil
	}
	return enabled, err
}

// ActiveCycles joins each active ticket with its latest, unresolved cycle.
func (s *Store) ActiveCycles(ctx context.Context) ([]escalation.Candidate, error) {
	rows, err := s.db.Query(ctx, `select t.title, c.ticket_id::text, c.cycle_number, c.opened_at, c.first_response_due_at,
            c.first_response_at, c.first_response_breached, c.resolution_due_at, c.resolved_at, c.resolution_breached,
            c.paused_at, c.manual_override, c.override_reason, c.override_by::text, c.override_at
        from tickets t
        join lateral (
            select * from ticket_sla_cycles sc where sc.ticket_id = t.id order by sc.cycle_number desc limit 1
        ) c on true
        where t.status in ('ABERTO','EM_ANDAMENTO','AGUARDANDO_USUARIO','AGUARDANDO_APROVACAO')
          and c.resolved_at is null
        order by c.resolution_due_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []escalation.Candidate{}
	for rows.Next() {
		var cand escalation.Candidate
		c := &cand.Cycle
		if err := rows.Scan(&cand.Title, &c.TicketID, &c.Number, &c.OpenedAt, &c.FirstResponseDueAt,
			&c.FirstResponseAt, &c.FirstResponseBreached, &c.ResolutionDueAt, &c.ResolvedAt, &c.ResolutionBreached,
			&c.PausedAt, &c.ManualOverride, &c.OverrideReason, &c.OverrideBy, &c.OverrideAt); err != nil {
			return nil, err
		}
		cand.TicketID = c.TicketID
		out = append(out, cand)
	}
	return out, rows.Err()
}

// InsertAlertOnce relies on the dedup primary key; a conflicting row means the
// alert was already raised.
func (s *Store) InsertAlertOnce(ctx context.Context, ticketID string, cycle int, alert sla.AlertType, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `insert into ticket_alert_dedup (ticket_id, cycle_number, alert_type, created_at)
        values ($1,$2,$3,$4) on conflict do nothing`, ticketID, cycle, string(alert), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AssigneeIDs(ctx context.Context, ticketID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `select user_id::text from ticket_assignees where ticket_id = $1 order by user_id`, ticketID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (s *Store) InsertNotifications(ctx context.Context, ns []escalation.Notification) error {
	batch := &pgx.Batch{}
	for _, n := range ns {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		batch.Queue(`insert into notifications (user_id, type, title, message, link, data) values ($1,$2,$3,$4,$5,$6)`,
			n.UserID, n.Type, n.Title, n.Message, n.Link, data)
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) MarkBreached(ctx context.Context, ticketID string, cycle int, first, resolution bool) error {
	_, err := s.db.Exec(ctx, `update ticket_sla_cycles
        set first_response_breached = first_response_breached or $3,
            resolution_breached = resolution_breached or $4
        where ticket_id = $1 and cycle_number = $2`, ticketID, cycle, first, resolution)
	return err
}

var _ escalation.Store = (*Store)(nil)
