package lifecycle

import (
	"context"
	"time"

	"github.com/mark3748/intranet-portal/internal/sla"
)

// Ticket is a helpdesk ticket.
type Ticket struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Status            Status       `json:"status"`
	Priority          sla.Priority `json:"priority"`
	RequesterSectorID string       `json:"requester_sector_id"`
	TargetSectorID    string       `json:"target_sector_id"`
	CategoryID        *string      `json:"category_id,omitempty"`
	CreatedBy         string       `json:"created_by"`
	Tags              []string     `json:"tags"`
	AssigneeIDs       []string     `json:"assignee_ids"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	ClosedAt          *time.Time   `json:"closed_at,omitempty"`
}

func (t Ticket) assignedTo(userID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Comment is a message on a ticket. Internal comments are visible to admins only.
type Comment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	AuthorID   string    `json:"author_id"`
	Body       string    `json:"body"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor is the user performing an operation.
type Actor struct {
	ID       string
	SectorID string
	IsAdmin  bool
}

// CreateInput carries the fields of a new ticket.
type CreateInput struct {
	Title          string
	Description    string
	Priority       sla.Priority
	CategoryID     *string
	TargetSectorID string
	Tags           []string
}

// Event is a lifecycle event recorded against a ticket.
type Event struct {
	TicketID  string         `json:"ticket_id"`
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListFilter narrows ticket listings.
type ListFilter struct {
	Statuses   []Status
	Priorities []sla.Priority
	// VisibleTo restricts results to tickets created by or assigned to the user.
	VisibleTo string
	Limit     int
}

// Store is the persistence the lifecycle needs. Implementations must make
// TransitionStatus a compare-and-set on the current status and reject a
// duplicate (ticket, cycle number) with ErrConflict.
type Store interface {
	// InTx runs fn with a Store bound to a single transaction.
	InTx(ctx context.Context, fn func(Store) error) error

	GetTicket(ctx context.Context, id string) (Ticket, error)
	// LockTicket reads the ticket and holds a row lock until the transaction ends.
	LockTicket(ctx context.Context, id string) (Ticket, error)
	ListTickets(ctx context.Context, f ListFilter) ([]Ticket, error)
	InsertTicket(ctx context.Context, t Ticket) error
	TransitionStatus(ctx context.Context, id string, from []Status, to Status, closedAt *time.Time, now time.Time) (Ticket, error)
	UpdatePriority(ctx context.Context, id string, p sla.Priority, now time.Time) error
	UpdateCategory(ctx context.Context, id string, categoryID *string, now time.Time) error
	SetAssignees(ctx context.Context, id string, userIDs []string, now time.Time) error

	LatestCycle(ctx context.Context, ticketID string) (sla.Cycle, error)
	ListCycles(ctx context.Context, ticketID string) ([]sla.Cycle, error)
	InsertCycle(ctx context.Context, c sla.Cycle) error
	UpdateCycle(ctx context.Context, c sla.Cycle) error

	GetCategory(ctx context.Context, id string) (Category, error)
	InsertApproval(ctx context.Context, a Approval) error
	LatestApproval(ctx context.Context, ticketID string) (Approval, error)
	// DecideApproval persists a decision only if the approval is still pending.
	DecideApproval(ctx context.Context, a Approval) error
	// PendingApprovals returns every approval still PENDING, oldest first.
	PendingApprovals(ctx context.Context) ([]Approval, error)

	InsertComment(ctx context.Context, c Comment) error
	ListComments(ctx context.Context, ticketID string, includeInternal bool) ([]Comment, error)

	RecordEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, ticketID string) ([]Event, error)
}

// DueDateComputer yields cycle deadlines for a priority.
type DueDateComputer interface {
	ComputeDueDates(ctx context.Context, openedAt time.Time, priority sla.Priority) (sla.DueDates, error)
}

// Publisher broadcasts live events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, typ string, data any)
}
