package domain

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrDuplicateIntent      = errors.New("duplicate payment intent")
	ErrConfirmationConflict = errors.New("confirmation conflict")
	ErrPriceMismatch        = errors.New("price mismatch")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")

	// ErrInvariantViolation marks a partially applied lifecycle state that
	// must be reported rather than silently repaired.
	ErrInvariantViolation = errors.New("invariant violation")
)

// IsRetryable reports whether err is transient. Only storage outages are
// retried; every other kind is terminal for the call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// Code returns a stable machine-readable code for the error kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateIntent):
		return "duplicate_intent"
	case errors.Is(err, ErrConfirmationConflict):
		return "confirmation_conflict"
	case errors.Is(err, ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal_error"
	}
}
