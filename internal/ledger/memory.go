package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

type memTxKey struct{}

// MemoryStore is an in-process ledger with the same contract as Repository.
// Transactions are serialized behind one mutex and rolled back by restoring
// a snapshot, so row locks come for free.
type MemoryStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	intents map[string]domain.PaymentIntent
	holds   map[string]domain.EscrowHold

	failMu     sync.Mutex
	failNext   []error
	failCommit []error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]domain.Order),
		intents: make(map[string]domain.PaymentIntent),
		holds:   make(map[string]domain.EscrowHold),
	}
}

// FailNextTx queues errors returned by upcoming WithTx calls, one per call.
func (m *MemoryStore) FailNextTx(errs ...error) {
	m.failMu.Lock()
	m.failNext = append(m.failNext, errs...)
	m.failMu.Unlock()
}

// FailNextCommit queues errors returned after fn succeeds, one per WithTx
// call. The transaction's writes are rolled back as a failed commit would.
func (m *MemoryStore) FailNextCommit(errs ...error) {
	m.failMu.Lock()
	m.failCommit = append(m.failCommit, errs...)
	m.failMu.Unlock()
}

func (m *MemoryStore) popFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return pop(&m.failNext)
}

func (m *MemoryStore) popCommitFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return pop(&m.failCommit)
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	if err := m.popFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	orders, intents, holds := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.orders, m.intents, m.holds = orders, intents, holds
		return err
	}
	if err := m.popCommitFailure(); err != nil {
		m.orders, m.intents, m.holds = orders, intents, holds
		return err
	}
	return nil
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// enter locks the store for a single statement outside a transaction.
func (m *MemoryStore) enter(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) snapshot() (map[string]domain.Order, map[string]domain.PaymentIntent, map[string]domain.EscrowHold) {
	orders := make(map[string]domain.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = copyOrder(v)
	}
	intents := make(map[string]domain.PaymentIntent, len(m.intents))
	for k, v := range m.intents {
		intents[k] = v
	}
	holds := make(map[string]domain.EscrowHold, len(m.holds))
	for k, v := range m.holds {
		holds[k] = v
	}
	return orders, intents, holds
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.LineItem{}, o.Items...)
	return o
}

func (m *MemoryStore) InsertOrder(ctx context.Context, order *domain.Order) error {
	defer m.enter(ctx)()
	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("insert order: order %s already exists", order.ID)
	}
	m.orders[order.ID] = copyOrder(*order)
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	defer m.enter(ctx)()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	out := copyOrder(o)
	return &out, nil
}

func (m *MemoryStore) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	defer m.enter(ctx)()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return fmt.Errorf("%w: order %s is no longer %s", domain.ErrInvalidTransition, id, from)
	}
	o.Status = to
	o.UpdatedAt = at
	m.orders[id] = o
	return nil
}

func (m *MemoryStore) ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	defer m.enter(ctx)()
	orders := []domain.Order{}
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *MemoryStore) InsertIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	defer m.enter(ctx)()
	for _, existing := range m.intents {
		if existing.OrderID == intent.OrderID && existing.Status == domain.IntentStatusPending && intent.Status == domain.IntentStatusPending {
			return fmt.Errorf("%w: order %s already has an active intent", domain.ErrDuplicateIntent, intent.OrderID)
		}
		if existing.Reference == intent.Reference {
			return fmt.Errorf("%w: intent %s reuses reference %s", domain.ErrInvariantViolation, intent.ID, intent.Reference)
		}
	}
	m.intents[intent.ID] = *intent
	return nil
}

func (m *MemoryStore) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	defer m.enter(ctx)()
	i, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, id)
	}
	return &i, nil
}

func (m *MemoryStore) LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return m.GetIntent(ctx, id)
}

func (m *MemoryStore) GetIntentByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	defer m.enter(ctx)()
	for _, i := range m.intents {
		if i.Reference == reference {
			return &i, nil
		}
	}
	return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, reference)
}

func (m *MemoryStore) ActiveIntentForOrder(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	defer m.enter(ctx)()
	for _, i := range m.intents {
		if i.OrderID == orderID && i.Status == domain.IntentStatusPending {
			return &i, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) IntentsForOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error) {
	defer m.enter(ctx)()
	intents := []domain.PaymentIntent{}
	for _, i := range m.intents {
		if i.OrderID == orderID {
			intents = append(intents, i)
		}
	}
	sort.Slice(intents, func(a, b int) bool {
		if !intents[a].CreatedAt.Equal(intents[b].CreatedAt) {
			return intents[a].CreatedAt.Before(intents[b].CreatedAt)
		}
		return intents[a].ID < intents[b].ID
	})
	return intents, nil
}

func (m *MemoryStore) UpdateIntentStatus(ctx context.Context, id string, from, to domain.IntentStatus, confirmedAt time.Time) error {
	defer m.enter(ctx)()
	i, ok := m.intents[id]
	if !ok || i.Status != from {
		return fmt.Errorf("%w: payment intent %s is no longer %s", domain.ErrInvalidTransition, id, from)
	}
	i.Status = to
	i.ConfirmedAt = &confirmedAt
	m.intents[id] = i
	return nil
}

func (m *MemoryStore) SucceededIntentsWithoutHolds(ctx context.Context, after time.Time, afterID string, limit int) ([]domain.PaymentIntent, error) {
	defer m.enter(ctx)()
	allocated := make(map[string]bool)
	for _, h := range m.holds {
		allocated[h.OrderID] = true
	}
	intents := []domain.PaymentIntent{}
	for _, i := range m.intents {
		if i.Status != domain.IntentStatusSucceeded || allocated[i.OrderID] || i.ConfirmedAt == nil {
			continue
		}
		if order, ok := m.orders[i.OrderID]; ok && order.Status.Terminal() {
			continue
		}
		if !confirmedAfter(i, after, afterID) {
			continue
		}
		intents = append(intents, i)
	}
	sort.Slice(intents, func(a, b int) bool {
		x, y := intents[a], intents[b]
		if !x.ConfirmedAt.Equal(*y.ConfirmedAt) {
			return x.ConfirmedAt.Before(*y.ConfirmedAt)
		}
		return x.ID < y.ID
	})
	if limit > 0 && len(intents) > limit {
		intents = intents[:limit]
	}
	return intents, nil
}

func confirmedAfter(i domain.PaymentIntent, after time.Time, afterID string) bool {
	if i.ConfirmedAt.Equal(after) {
		return i.ID > afterID
	}
	return i.ConfirmedAt.After(after)
}

func (m *MemoryStore) InsertHolds(ctx context.Context, holds []domain.EscrowHold) error {
	defer m.enter(ctx)()
	for _, h := range holds {
		for _, existing := range m.holds {
			if existing.OrderID == h.OrderID && existing.SellerID == h.SellerID {
				return fmt.Errorf("%w: order %s is already allocated", domain.ErrInvariantViolation, h.OrderID)
			}
		}
		m.holds[h.ID] = h
	}
	return nil
}

func (m *MemoryStore) HoldsForOrder(ctx context.Context, orderID string) ([]domain.EscrowHold, error) {
	defer m.enter(ctx)()
	holds := []domain.EscrowHold{}
	for _, h := range m.holds {
		if h.OrderID == orderID {
			holds = append(holds, h)
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].Position < holds[j].Position })
	return holds, nil
}

func (m *MemoryStore) GetHold(ctx context.Context, id string) (*domain.EscrowHold, error) {
	defer m.enter(ctx)()
	h, ok := m.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow hold %s", domain.ErrNotFound, id)
	}
	return &h, nil
}

func (m *MemoryStore) LockHold(ctx context.Context, id string) (*domain.EscrowHold, error) {
	return m.GetHold(ctx, id)
}

func (m *MemoryStore) UpdateHoldStatus(ctx context.Context, hold *domain.EscrowHold, from domain.HoldStatus) error {
	defer m.enter(ctx)()
	h, ok := m.holds[hold.ID]
	if !ok || h.Status != from {
		return fmt.Errorf("%w: escrow hold %s is no longer %s", domain.ErrInvalidTransition, hold.ID, from)
	}
	h.Status = hold.Status
	h.ResolvedAt = hold.ResolvedAt
	m.holds[hold.ID] = h
	return nil
}

func (m *MemoryStore) MarkHoldDisputed(ctx context.Context, id string, at time.Time, reason string) error {
	defer m.enter(ctx)()
	h, ok := m.holds[id]
	if !ok || h.Status != domain.HoldStatusHeld || h.DisputedAt != nil {
		return fmt.Errorf("%w: escrow hold %s is no longer held and undisputed", domain.ErrInvalidTransition, id)
	}
	h.DisputedAt = &at
	h.DisputeReason = reason
	m.holds[id] = h
	return nil
}

func (m *MemoryStore) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.EscrowHold, error) {
	defer m.enter(ctx)()
	holds := []domain.EscrowHold{}
	for _, h := range m.holds {
		if h.Releasable(now) {
			holds = append(holds, h)
		}
	}
	sort.Slice(holds, func(i, j int) bool {
		if !holds[i].HeldUntil.Equal(holds[j].HeldUntil) {
			return holds[i].HeldUntil.Before(holds[j].HeldUntil)
		}
		return holds[i].ID < holds[j].ID
	})
	if limit > 0 && len(holds) > limit {
		holds = holds[:limit]
	}
	return holds, nil
}
