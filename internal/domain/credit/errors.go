package credit

import "errors"

var (
	// ErrInvalidAmount is returned when credits+bonus is <= 0 or either part is negative
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInvalidGrant is returned when a grant is missing its user, type or idempotency key
	ErrInvalidGrant = errors.New("invalid grant request")

	// ErrDuplicateGrant is returned by the repository when the idempotency key already exists
	ErrDuplicateGrant = errors.New("duplicate grant")

	ErrInternal = errors.New("internal error")
)
