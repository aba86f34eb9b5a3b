package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/escrowflow/internal/clock"
	"github.com/joao-fontenele/escrowflow/internal/domain"
)

// Repository is the slice of the ledger the tracker needs. Calls join the
// transaction carried by ctx.
type Repository interface {
	InsertIntent(ctx context.Context, intent *domain.PaymentIntent) error
	LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	ActiveIntentForOrder(ctx context.Context, orderID string) (*domain.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, id string, from, to domain.IntentStatus, confirmedAt time.Time) error
}

// Authority reserves funds with the external payment authority. The
// idempotency key is the intent id, so a retried reserve returns the same
// reference.
type Authority interface {
	Reserve(ctx context.Context, idempotencyKey string, amount int64, currency string) (reference string, err error)
}

type Tracker struct {
	repo      Repository
	authority Authority
	clock     clock.Clock
	newID     func() string
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

func NewTracker(repo Repository, authority Authority, opts ...Option) *Tracker {
	t := &Tracker{
		repo:      repo,
		authority: authority,
		clock:     clock.NewSystem(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reservation is funds held at the authority under IntentID, not yet
// recorded as an intent.
type Reservation struct {
	IntentID  string
	Reference string
}

// Reserve mints the intent id and reserves the order total under it. It
// makes a network call, so callers keep it outside ledger transactions and
// reuse the returned reservation across retries.
func (t *Tracker) Reserve(ctx context.Context, order *domain.Order) (*Reservation, error) {
	if order.Status != domain.OrderStatusPendingPayment {
		return nil, fmt.Errorf("%w: order %s is %s, not awaiting payment", domain.ErrInvalidTransition, order.ID, order.Status)
	}

	id := t.newID()
	reference, err := t.authority.Reserve(ctx, id, order.Total, order.Currency)
	if err != nil {
		return nil, fmt.Errorf("reserve payment for order %s: %w", order.ID, err)
	}
	return &Reservation{IntentID: id, Reference: reference}, nil
}

// Record stores a pending intent for a reservation. At most one pending
// intent may exist per order.
func (t *Tracker) Record(ctx context.Context, order *domain.Order, res *Reservation) (*domain.PaymentIntent, error) {
	if order.Status != domain.OrderStatusPendingPayment {
		return nil, fmt.Errorf("%w: order %s is %s, not awaiting payment", domain.ErrInvalidTransition, order.ID, order.Status)
	}
	if err := t.ensureNoActiveIntent(ctx, order.ID); err != nil {
		return nil, err
	}

	intent := domain.NewPaymentIntent(res.IntentID, order, res.Reference, t.clock.Now())
	if err := t.repo.InsertIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// CreateIntent reserves the order total with the authority and records a
// pending intent. The authority is not called when the order already has a
// pending intent.
func (t *Tracker) CreateIntent(ctx context.Context, order *domain.Order) (*domain.PaymentIntent, error) {
	if err := t.ensureNoActiveIntent(ctx, order.ID); err != nil {
		return nil, err
	}
	res, err := t.Reserve(ctx, order)
	if err != nil {
		return nil, err
	}
	return t.Record(ctx, order, res)
}

func (t *Tracker) ensureNoActiveIntent(ctx context.Context, orderID string) error {
	active, err := t.repo.ActiveIntentForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if active != nil {
		return fmt.Errorf("%w: order %s already has intent %s", domain.ErrDuplicateIntent, orderID, active.ID)
	}
	return nil
}

// Confirm records the authority's outcome on an intent. The first
// confirmation moves it out of pending and reports changed=true; replaying
// the recorded outcome is a no-op, and a different outcome fails with
// domain.ErrConfirmationConflict.
func (t *Tracker) Confirm(ctx context.Context, intentID string, outcome domain.Outcome) (intent *domain.PaymentIntent, changed bool, err error) {
	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return nil, false, err
	}

	intent, err = t.repo.LockIntent(ctx, intentID)
	if err != nil {
		return nil, false, err
	}

	target := outcome.Status()
	if intent.Status.Terminal() {
		if intent.Status == target {
			return intent, false, nil
		}
		return nil, false, fmt.Errorf("%w: intent %s is %s, callback reported %s",
			domain.ErrConfirmationConflict, intent.ID, intent.Status, outcome)
	}

	now := t.clock.Now()
	if err := t.repo.UpdateIntentStatus(ctx, intent.ID, domain.IntentStatusPending, target, now); err != nil {
		return nil, false, err
	}
	intent.Status = target
	intent.ConfirmedAt = &now
	return intent, true, nil
}

// Fail marks the order's pending intent as failed. It returns nil when the
// order has no pending intent.
func (t *Tracker) Fail(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	active, err := t.repo.ActiveIntentForOrder(ctx, orderID)
	if err != nil || active == nil {
		return nil, err
	}
	intent, _, err := t.Confirm(ctx, active.ID, domain.OutcomeFailed)
	return intent, err
}
