package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/escrowflow/internal/clock"
	"github.com/joao-fontenele/escrowflow/internal/domain"
)

const DefaultProtectionWindow = 7 * 24 * time.Hour

type Repository interface {
	HoldsForOrder(ctx context.Context, orderID string) ([]domain.EscrowHold, error)
	InsertHolds(ctx context.Context, holds []domain.EscrowHold) error
	LockHold(ctx context.Context, id string) (*domain.EscrowHold, error)
	UpdateHoldStatus(ctx context.Context, hold *domain.EscrowHold, from domain.HoldStatus) error
	MarkHoldDisputed(ctx context.Context, id string, at time.Time, reason string) error
}

type Allocator struct {
	repo   Repository
	clock  clock.Clock
	window time.Duration
	newID  func() string
}

type Option func(*Allocator)

func WithClock(c clock.Clock) Option {
	return func(a *Allocator) { a.clock = c }
}

func WithProtectionWindow(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.window = d
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(a *Allocator) { a.newID = fn }
}

func NewAllocator(repo Repository, opts ...Option) *Allocator {
	a := &Allocator{
		repo:   repo,
		clock:  clock.NewSystem(),
		window: DefaultProtectionWindow,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) ProtectionWindow() time.Duration {
	return a.window
}

// Split partitions a paid order into one hold per seller, in order of each
// seller's first line item. Amounts are integer minor units, so the holds
// sum to the intent amount exactly. Returned holds have no ID yet.
func Split(order *domain.Order, intent *domain.PaymentIntent, now time.Time, window time.Duration) ([]domain.EscrowHold, error) {
	if intent.OrderID != order.ID {
		return nil, fmt.Errorf("%w: intent %s belongs to order %s, not %s", domain.ErrInvariantViolation, intent.ID, intent.OrderID, order.ID)
	}
	if intent.Status != domain.IntentStatusSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %s, not succeeded", domain.ErrInvariantViolation, intent.ID, intent.Status)
	}
	if intent.Amount != order.Total || intent.Currency != order.Currency {
		return nil, fmt.Errorf("%w: intent %s charges %d %s for an order of %d %s",
			domain.ErrInvariantViolation, intent.ID, intent.Amount, intent.Currency, order.Total, order.Currency)
	}

	now = now.UTC()
	heldUntil := now.Add(window)

	index := make(map[string]int)
	var holds []domain.EscrowHold
	for _, item := range order.Items {
		pos, ok := index[item.SellerID]
		if !ok {
			pos = len(holds)
			index[item.SellerID] = pos
			holds = append(holds, domain.EscrowHold{
				OrderID:   order.ID,
				IntentID:  intent.ID,
				BuyerID:   order.BuyerID,
				SellerID:  item.SellerID,
				Currency:  intent.Currency,
				Position:  pos,
				Status:    domain.HoldStatusHeld,
				HeldUntil: heldUntil,
				CreatedAt: now,
			})
		}
		holds[pos].Amount += item.Price * int64(item.Quantity)
	}

	var sum int64
	for _, h := range holds {
		sum += h.Amount
	}
	if sum != intent.Amount {
		return nil, fmt.Errorf("%w: holds for order %s sum to %d, intent amount is %d", domain.ErrInvariantViolation, order.ID, sum, intent.Amount)
	}
	return holds, nil
}

// Allocate creates the escrow holds for a paid order. If the order already
// has holds they are returned unchanged.
func (a *Allocator) Allocate(ctx context.Context, order *domain.Order, intent *domain.PaymentIntent) ([]domain.EscrowHold, error) {
	existing, err := a.repo.HoldsForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	holds, err := Split(order, intent, a.clock.Now(), a.window)
	if err != nil {
		return nil, err
	}
	for i := range holds {
		holds[i].ID = a.newID()
	}
	if err := a.repo.InsertHolds(ctx, holds); err != nil {
		return nil, err
	}
	return holds, nil
}

// Resolve moves a held hold to released or refunded.
func (a *Allocator) Resolve(ctx context.Context, holdID string, outcome domain.HoldOutcome) (*domain.EscrowHold, error) {
	if _, err := domain.ParseHoldOutcome(string(outcome)); err != nil {
		return nil, err
	}

	hold, err := a.repo.LockHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	from := hold.Status
	if err := hold.Resolve(outcome, a.clock.Now()); err != nil {
		return nil, err
	}
	if err := a.repo.UpdateHoldStatus(ctx, hold, from); err != nil {
		return nil, err
	}
	return hold, nil
}

// OpenDispute stops the sweep from auto-releasing a hold. The hold stays
// held until a dispute resolution releases or refunds it.
func (a *Allocator) OpenDispute(ctx context.Context, holdID, reason string) (*domain.EscrowHold, error) {
	hold, err := a.repo.LockHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.HoldStatusHeld {
		return nil, fmt.Errorf("%w: hold %s is %s, not held", domain.ErrInvalidTransition, hold.ID, hold.Status)
	}
	if hold.Disputed() {
		return nil, fmt.Errorf("%w: hold %s is already disputed", domain.ErrInvalidTransition, hold.ID)
	}

	now := a.clock.Now()
	reason = strings.TrimSpace(reason)
	if err := a.repo.MarkHoldDisputed(ctx, hold.ID, now, reason); err != nil {
		return nil, err
	}
	hold.DisputedAt = &now
	hold.DisputeReason = reason
	return hold, nil
}
