package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

var (
	ErrAlreadySettled = errors.New("reservation already settled with a different outcome")
	ErrKeyReused      = errors.New("idempotency key reused with different parameters")
)

type Reservation struct {
	Reference      string              `json:"reference"`
	IdempotencyKey string              `json:"idempotency_key"`
	Amount         int64               `json:"amount"`
	Currency       string              `json:"currency"`
	Status         domain.IntentStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	SettledAt      *time.Time          `json:"settled_at,omitempty"`
}

type ReservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Reserve creates a pending reservation, or returns the one already made
// under the same idempotency key.
func (r *ReservationRepository) Reserve(ctx context.Context, key string, amount int64, currency string) (*Reservation, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reservations (reference, idempotency_key, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, "res_"+uuid.NewString(), key, amount, currency, domain.IntentStatusPending)
	if err != nil {
		return nil, err
	}

	res, err := r.scan(r.db.QueryRowContext(ctx, `
		SELECT reference, idempotency_key, amount, currency, status, created_at, settled_at
		FROM reservations
		WHERE idempotency_key = $1
	`, key))
	if err != nil {
		return nil, err
	}
	if res.Amount != amount || res.Currency != currency {
		return nil, fmt.Errorf("%w: key %s", ErrKeyReused, key)
	}
	return res, nil
}

func (r *ReservationRepository) Get(ctx context.Context, reference string) (*Reservation, error) {
	res, err := r.scan(r.db.QueryRowContext(ctx, `
		SELECT reference, idempotency_key, amount, currency, status, created_at, settled_at
		FROM reservations
		WHERE reference = $1
	`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reference)
	}
	return res, err
}

// Settle records the outcome of a pending reservation. Settling again with
// the recorded outcome is a no-op; a different outcome is ErrAlreadySettled.
func (r *ReservationRepository) Settle(ctx context.Context, reference string, status domain.IntentStatus) (*Reservation, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reservations SET status = $2, settled_at = NOW()
		WHERE reference = $1 AND status = $3
	`, reference, status, domain.IntentStatusPending)
	if err != nil {
		return nil, err
	}

	res, err := r.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if res.Status != status {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, reference, res.Status)
	}
	return res, nil
}

func (r *ReservationRepository) scan(row *sql.Row) (*Reservation, error) {
	var res Reservation
	var settledAt sql.NullTime
	if err := row.Scan(&res.Reference, &res.IdempotencyKey, &res.Amount, &res.Currency, &res.Status, &res.CreatedAt, &settledAt); err != nil {
		return nil, err
	}
	if settledAt.Valid {
		t := settledAt.Time.UTC()
		res.SettledAt = &t
	}
	return &res, nil
}
