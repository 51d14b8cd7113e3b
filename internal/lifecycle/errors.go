package lifecycle

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCommentNotAllowed = errors.New("comments and attachments are only accepted while waiting for the requester")
	ErrInternalComment   = errors.New("internal comments are restricted to admins")
	ErrAlreadyDecided    = errors.New("approval already decided")
	ErrNotApprover       = errors.New("actor is not an approver for this ticket")
	ErrNoCycle           = errors.New("ticket has no sla cycle")
	ErrNoActiveCycle     = errors.New("ticket has no active sla cycle")
	ErrConflict          = errors.New("concurrent update conflict")
)
