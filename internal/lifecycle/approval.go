package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// ApprovalMode selects how the approvers of a category are resolved.
type ApprovalMode string

const (
	ModeRequesterCoordinator ApprovalMode = "REQUESTER_COORDINATOR"
	ModeTIAdmin              ApprovalMode = "TI_ADMIN"
	ModeSpecificUsers        ApprovalMode = "SPECIFIC_USERS"
)

// ApprovalStatus is the decision state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Decision is the verdict of an approver.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Category is a ticket category with its approval gate configuration.
type Category struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	RequiresApproval bool         `json:"requires_approval"`
	ApprovalMode     ApprovalMode `json:"approval_mode,omitempty"`
	ApproverIDs      []string     `json:"approver_ids,omitempty"`
}

// Approval gates a ticket until an approver decides. It is terminal once
// Status leaves PENDING.
type Approval struct {
	ID          string         `json:"id"`
	TicketID    string         `json:"ticket_id"`
	Mode        ApprovalMode   `json:"mode"`
	ApproverIDs []string       `json:"approver_ids,omitempty"`
	Status      ApprovalStatus `json:"status"`
	Note        *string        `json:"note,omitempty"`
	DecidedBy   *string        `json:"decided_by,omitempty"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Directory answers identity and role lookups.
type Directory interface {
	AdminIDs(ctx context.Context) ([]string, error)
	SectorCoordinators(ctx context.Context, sectorID string) ([]string, error)
	SectorAdmins(ctx context.Context, sectorID string) ([]string, error)
	SectorIDByName(ctx context.Context, name string) (string, error)
}

// ApproverResolver resolves the user ids allowed to decide an approval.
type ApproverResolver interface {
	Approvers(ctx context.Context, t Ticket, a Approval) ([]string, error)
}

type coordinatorResolver struct{ dir Directory }

func (r coordinatorResolver) Approvers(ctx context.Context, t Ticket, _ Approval) ([]string, error) {
	return r.dir.SectorCoordinators(ctx, t.RequesterSectorID)
}

type targetAdminResolver struct{ dir Directory }

func (r targetAdminResolver) Approvers(ctx context.Context, t Ticket, _ Approval) ([]string, error) {
	return r.dir.SectorAdmins(ctx, t.TargetSectorID)
}

type specificUsersResolver struct{}

func (specificUsersResolver) Approvers(_ context.Context, _ Ticket, a Approval) ([]string, error) {
	return a.ApproverIDs, nil
}

// Resolvers maps each approval mode to its resolver.
type Resolvers map[ApprovalMode]ApproverResolver

// NewResolvers registers the built-in approval modes.
func NewResolvers(dir Directory) Resolvers {
	return Resolvers{
		ModeRequesterCoordinator: coordinatorResolver{dir: dir},
		ModeTIAdmin:              targetAdminResolver{dir: dir},
		ModeSpecificUsers:        specificUsersResolver{},
	}
}

// Approvers resolves the approver set of a through its mode.
func (r Resolvers) Approvers(ctx context.Context, t Ticket, a Approval) ([]string, error) {
	res, ok := r[a.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown approval mode %q", ErrValidation, a.Mode)
	}
	return res.Approvers(ctx, t, a)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
