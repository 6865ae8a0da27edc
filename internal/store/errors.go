package store

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrQueueNotFound        = errors.New("queue not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrDuplicatePrefix      = errors.New("category prefix already used")
	ErrCounterNotFound      = errors.New("counter not found")
	ErrCounterOpen          = errors.New("counter is open")
	ErrCounterUnavailable   = errors.New("counter unavailable")
	ErrCounterBusy          = errors.New("counter already has a ticket")
	ErrCounterAssigned      = errors.New("counter assigned to another user")
	ErrCounterMismatch      = errors.New("counter mismatch")
	ErrNoTicket             = errors.New("no ticket available")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInvalidState         = errors.New("invalid ticket state")
	ErrConflict             = errors.New("concurrent update")
	ErrPriorityNotAllowed   = errors.New("priority tickets not allowed")
	ErrFeedbackExists       = errors.New("feedback already recorded")
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAccessDenied         = errors.New("access denied")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionNotFound      = errors.New("session not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrLastOwner            = errors.New("organization needs an owner")
)
