package store

import (
	"context"
	"encoding/json"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

func (s *Store) InsertComment(ctx context.Context, c lifecycle.Comment) error {
	_, err := s.db.Exec(ctx, `insert into ticket_comments (id, ticket_id, author_id, body, is_internal, created_at)
        values ($1,$2,$3,$4,$5,$6)`, c.ID, c.TicketID, c.AuthorID, c.Body, c.IsInternal, c.CreatedAt)
	return mapErr(err)
}

func (s *Store) ListComments(ctx context.Context, ticketID string, includeInternal bool) ([]lifecycle.Comment, error) {
	rows, err := s.db.Query(ctx, `select id::text, ticket_id::text, author_id::text, body, is_internal, created_at
        from ticket_comments where ticket_id = $1 and ($2 or not is_internal) order by created_at`, ticketID, includeInternal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []lifecycle.Comment{}
	for rows.Next() {
		var c lifecycle.Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.Body, &c.IsInternal, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordEvent appends to ticket_events.
func (s *Store) RecordEvent(ctx context.Context, ev lifecycle.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.Data == nil {
		payload = []byte("{}")
	}
	var actor *string
	if ev.ActorID != "" {
		actor = &ev.ActorID
	}
	_, err = s.db.Exec(ctx, `insert into ticket_events (ticket_id, event_type, actor_id, payload, created_at)
        values ($1,$2,$3,$4,$5)`, ev.TicketID, ev.Type, actor, payload, ev.CreatedAt)
	return mapErr(err)
}

// ListEvents returns the ticket's lifecycle events, oldest first.
func (s *Store) ListEvents(ctx context.Context, ticketID string) ([]lifecycle.Event, error) {
	rows, err := s.db.Query(ctx, `select ticket_id::text, event_type, coalesce(actor_id::text, ''), payload, created_at
        from ticket_events where ticket_id = $1 order by id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []lifecycle.Event{}
	for rows.Next() {
		var ev lifecycle.Event
		var payload []byte
		if err := rows.Scan(&ev.TicketID, &ev.Type, &ev.ActorID, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &ev.Data)
		out = append(out, ev)
	}
	return out, rows.Err()
}
