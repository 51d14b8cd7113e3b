package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/sla"
)

const cycleColumns = `ticket_id::text, cycle_number, opened_at, first_response_due_at, first_response_at,
       first_response_breached, resolution_due_at, resolved_at, resolution_breached, paused_at,
       manual_override, override_reason, override_by::text, override_at`

func scanCycle(row pgx.Row) (sla.Cycle, error) {
	var c sla.Cycle
	err := row.Scan(&c.TicketID, &c.Number, &c.OpenedAt, &c.FirstResponseDueAt, &c.FirstResponseAt,
		&c.FirstResponseBreached, &c.ResolutionDueAt, &c.ResolvedAt, &c.ResolutionBreached, &c.PausedAt,
		&c.ManualOverride, &c.OverrideReason, &c.OverrideBy, &c.OverrideAt)
	if err != nil {
		return sla.Cycle{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) LatestCycle(ctx context.Context, ticketID string) (sla.Cycle, error) {
	return scanCycle(s.db.QueryRow(ctx, `select `+cycleColumns+` from ticket_sla_cycles
        where ticket_id = $1 order by cycle_number desc limit 1`, ticketID))
}

func (s *Store) ListCycles(ctx context.Context, ticketID string) ([]sla.Cycle, error) {
	rows, err := s.db.Query(ctx, `select `+cycleColumns+` from ticket_sla_cycles
        where ticket_id = $1 order by cycle_number`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []sla.Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertCycle fails with ErrConflict when the (ticket, number) pair exists.
func (s *Store) InsertCycle(ctx context.Context, c sla.Cycle) error {
	_, err := s.db.Exec(ctx, `insert into ticket_sla_cycles (ticket_id, cycle_number, opened_at, first_response_due_at,
        first_response_at, first_response_breached, resolution_due_at, resolved_at, resolution_breached, paused_at,
        manual_override, override_reason, override_by, override_at)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.TicketID, c.Number, c.OpenedAt, c.FirstResponseDueAt, c.FirstResponseAt, c.FirstResponseBreached,
		c.ResolutionDueAt, c.ResolvedAt, c.ResolutionBreached, c.PausedAt,
		c.ManualOverride, c.OverrideReason, c.OverrideBy, c.OverrideAt)
	return mapErr(err)
}

// UpdateCycle writes the mutable columns. Breach flags are or-ed so a flag
// set by the scanner is never cleared.
func (s *Store) UpdateCycle(ctx context.Context, c sla.Cycle) error {
	return s.execOne(ctx, `update ticket_sla_cycles set
        first_response_at = $3, first_response_breached = first_response_breached or $4,
        resolution_due_at = $5, resolved_at = $6, resolution_breached = resolution_breached or $7,
        paused_at = $8, manual_override = $9, override_reason = $10, override_by = $11, override_at = $12
        where ticket_id = $1 and cycle_number = $2`,
		c.TicketID, c.Number, c.FirstResponseAt, c.FirstResponseBreached,
		c.ResolutionDueAt, c.ResolvedAt, c.ResolutionBreached,
		c.PausedAt, c.ManualOverride, c.OverrideReason, c.OverrideBy, c.OverrideAt)
}

var _ lifecycle.Store = (*Store)(nil)
