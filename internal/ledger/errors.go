package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

const activeIntentIndex = "uq_payment_intents_active"

const (
	pqUniqueViolation      = "23505"
	pqInvalidTextRepr      = "22P02"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// storageError classifies a driver error. Transient conditions are wrapped
// with domain.ErrStorageUnavailable so the coordinator can retry them.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
		}
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// intentInsertError maps a failed intent insert. Only the active-intent index
// means a duplicate intent; any other unique collision (id or authority
// reference) means two intents claim the same reservation.
func intentInsertError(intent *domain.PaymentIntent, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return storageError("insert intent", err)
	}
	if pqErr.Constraint == activeIntentIndex {
		return fmt.Errorf("%w: order %s already has an active intent", domain.ErrDuplicateIntent, intent.OrderID)
	}
	return fmt.Errorf("%w: intent %s collides on %s (reference %s)", domain.ErrInvariantViolation, intent.ID, pqErr.Constraint, intent.Reference)
}

func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepr
}
