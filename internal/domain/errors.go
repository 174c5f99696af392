package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Credit errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrAccountExists       = errors.New("credit account already exists")

	// Scheduling / execution errors
	ErrClaimConflict     = errors.New("work item already claimed")
	ErrWorkItemNotFound  = errors.New("work item not found")
	ErrIllegalTransition = errors.New("illegal status transition")

	// Storage errors
	ErrStorageConflict = errors.New("storage write conflict")

	// Collaborator errors
	ErrFatalGeneration = errors.New("generation failed fatally")
)

// ─── Failure Classification ─────────────────────────────────────────────────
// Transient failures feed the bounded-retry path; fatal failures terminate
// the work item immediately and trigger a credit refund.

// PublishError wraps a publisher collaborator failure with the boundary's
// retryable flag.
type PublishError struct {
	Retryable bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("publish failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried on a later tick.
// Collaborator timeouts count as transient; explicitly fatal generation
// errors and non-retryable publish errors do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatalGeneration) {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	// Everything else, deadline expiry included, is worth another tick.
	return true
}
