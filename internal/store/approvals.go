package store

import (
	"context"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

func (s *Store) GetCategory(ctx context.Context, id string) (lifecycle.Category, error) {
	var c lifecycle.Category
	var mode *string
	err := s.db.QueryRow(ctx, `select id::text, name, requires_approval, approval_mode, approver_ids
        from ticket_categories where id = $1`, id).Scan(&c.ID, &c.Name, &c.RequiresApproval, &mode, &c.ApproverIDs)
	if err != nil {
		return lifecycle.Category{}, mapErr(err)
	}
	if mode != nil {
		c.ApprovalMode = lifecycle.ApprovalMode(*mode)
	}
	return c, nil
}

// ListCategories returns every category ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]lifecycle.Category, error) {
	rows, err := s.db.Query(ctx, `select id::text, name, requires_approval, coalesce(approval_mode, ''), approver_ids
        from ticket_categories order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []lifecycle.Category{}
	for rows.Next() {
		var c lifecycle.Category
		var mode string
		if err := rows.Scan(&c.ID, &c.Name, &c.RequiresApproval, &mode, &c.ApproverIDs); err != nil {
			return nil, err
		}
		c.ApprovalMode = lifecycle.ApprovalMode(mode)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertApproval(ctx context.Context, a lifecycle.Approval) error {
	ids := a.ApproverIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := s.db.Exec(ctx, `insert into ticket_approvals (id, ticket_id, mode, approver_ids, status, created_at)
        values ($1,$2,$3,$4,$5,$6)`, a.ID, a.TicketID, string(a.Mode), ids, string(a.Status), a.CreatedAt)
	return mapErr(err)
}

func (s *Store) LatestApproval(ctx context.Context, ticketID string) (lifecycle.Approval, error) {
	var a lifecycle.Approval
	var mode, status string
	err := s.db.QueryRow(ctx, `select id::text, ticket_id::text, mode, approver_ids, status, note, decided_by::text, decided_at, created_at
        from ticket_approvals where ticket_id = $1 order by created_at desc limit 1`, ticketID).
		Scan(&a.ID, &a.TicketID, &mode, &a.ApproverIDs, &status, &a.Note, &a.DecidedBy, &a.DecidedAt, &a.CreatedAt)
	if err != nil {
		return lifecycle.Approval{}, mapErr(err)
	}
	a.Mode = lifecycle.ApprovalMode(mode)
	a.Status = lifecycle.ApprovalStatus(status)
	return a, nil
}

// DecideApproval persists the decision only while the row is still pending.
func (s *Store) DecideApproval(ctx context.Context, a lifecycle.Approval) error {
	tag, err := s.db.Exec(ctx, `update ticket_approvals set status = $2, note = $3, decided_by = $4, decided_at = $5
        where id = $1 and status = 'PENDING'`, a.ID, string(a.Status), a.Note, a.DecidedBy, a.DecidedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrAlreadyDecided
	}
	return nil
}

// PendingApprovals returns every undecided approval, oldest first.
func (s *Store) PendingApprovals(ctx context.Context) ([]lifecycle.Approval, error) {
	rows, err := s.db.Query(ctx, `select id::text, ticket_id::text, mode, approver_ids, status, created_at
        from ticket_approvals where status = 'PENDING' order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []lifecycle.Approval{}
	for rows.Next() {
		var a lifecycle.Approval
		var mode, status string
		if err := rows.Scan(&a.ID, &a.TicketID, &mode, &a.ApproverIDs, &status, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Mode = lifecycle.ApprovalMode(mode)
		a.Status = lifecycle.ApprovalStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
