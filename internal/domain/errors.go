package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict means a commit lost a race; the whole transaction may be retried.
	ErrConflict          = errors.New("conflict")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)
