package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/escrowflow/internal/clock"
	"github.com/joao-fontenele/escrowflow/internal/domain"
	"github.com/joao-fontenele/escrowflow/internal/escrow"
	"github.com/joao-fontenele/escrowflow/internal/payments"
)

// ErrCheckoutFailed is reported when a valid checkout could not be started.
// No order is persisted in that case.
var ErrCheckoutFailed = errors.New("could not start checkout")

// Store is the transactional ledger the coordinator drives. Reads and writes
// made with a context returned by WithTx join that transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error
	ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)

	GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	GetIntentByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error)
	IntentsForOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error)
	SucceededIntentsWithoutHolds(ctx context.Context, after time.Time, afterID string, limit int) ([]domain.PaymentIntent, error)

	HoldsForOrder(ctx context.Context, orderID string) ([]domain.EscrowHold, error)
	GetHold(ctx context.Context, id string) (*domain.EscrowHold, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.EscrowHold, error)
}

// Notifier publishes lifecycle notifications. Delivery is best effort and
// happens after the transition committed.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type Coordinator struct {
	store     Store
	tracker   *payments.Tracker
	allocator *escrow.Allocator
	notifier  Notifier
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics
	newID     func() string

	maxRetries   uint64
	retryBackoff time.Duration

	sweepBatch       int
	sweepConcurrency int

	// recovery resumes after the last intent it examined so intents that
	// keep failing cannot starve newer ones.
	recoverMu    sync.Mutex
	recoverAfter time.Time
	recoverID    string
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(co *Coordinator) { co.notifier = n }
}

func WithIDGenerator(fn func() string) Option {
	return func(co *Coordinator) { co.newID = fn }
}

// WithRetry sets how many times a transaction is retried after
// domain.ErrStorageUnavailable and the first backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(co *Coordinator) {
		co.maxRetries = maxRetries
		if initial > 0 {
			co.retryBackoff = initial
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.sweepBatch = n
		}
	}
}

func WithSweepConcurrency(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.sweepConcurrency = n
		}
	}
}

func NewCoordinator(store Store, tracker *payments.Tracker, allocator *escrow.Allocator, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		tracker:          tracker,
		allocator:        allocator,
		clock:            clock.NewSystem(),
		logger:           logger,
		metrics:          newMetrics(),
		newID:            uuid.NewString,
		maxRetries:       5,
		retryBackoff:     50 * time.Millisecond,
		sweepBatch:       100,
		sweepConcurrency: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// inTx runs fn in a transaction and retries it while the store reports
// domain.ErrStorageUnavailable. Any other error ends the attempt.
func (c *Coordinator) inTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBackoff
	eb.MaxInterval = 20 * c.retryBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if domain.IsRetryable(err) {
			c.logger.Warn("storage unavailable, retrying", "op", op, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

type CheckoutRequest struct {
	BuyerID      string
	Currency     string
	Items        []domain.LineItem
	ClaimedTotal *int64
}

type CheckoutResult struct {
	Order  *domain.Order         `json:"order"`
	Intent *domain.PaymentIntent `json:"intent"`
}

// Checkout reserves the order total once, then records the order and its
// payment intent in one transaction. Storage retries reuse the same
// reservation, so the authority sees a single idempotency key per checkout.
func (c *Coordinator) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "checkout", trace.WithAttributes(attribute.String("buyer.id", req.BuyerID)))
	defer span.End()

	order, err := domain.NewOrder(c.newID(), req.BuyerID, req.Currency, req.Items, req.ClaimedTotal, c.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrPriceMismatch) {
			c.logger.Warn("checkout total does not match line items", "buyer_id", req.BuyerID, "error", err)
		}
		c.metrics.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", domain.Code(err))))
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	reservation, err := c.tracker.Reserve(ctx, order)
	if err != nil {
		c.logger.Error("checkout failed", "order_id", order.ID, "buyer_id", order.BuyerID, "error", err)
		c.metrics.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", domain.Code(err))))
		recordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	var intent *domain.PaymentIntent
	err = c.inTx(ctx, "checkout", func(ctx context.Context) error {
		if err := c.store.InsertOrder(ctx, order); err != nil {
			return err
		}
		var err error
		intent, err = c.tracker.Record(ctx, order, reservation)
		return err
	})
	if err != nil {
		c.logger.Error("checkout failed", "order_id", order.ID, "buyer_id", order.BuyerID,
			"intent_id", reservation.IntentID, "reference", reservation.Reference, "error", err)
		c.metrics.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", domain.Code(err))))
		recordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	c.metrics.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	c.logger.Info("checkout started", "order_id", order.ID, "intent_id", intent.ID, "buyer_id", order.BuyerID, "total", order.Total, "currency", order.Currency)
	return &CheckoutResult{Order: order, Intent: intent}, nil
}

type OutcomeResult struct {
	Order  *domain.Order         `json:"order"`
	Intent *domain.PaymentIntent `json:"intent"`
	Holds  []domain.EscrowHold   `json:"holds"`
	// Changed is false when the outcome was already recorded.
	Changed bool `json:"changed"`
}

// OnAuthorityOutcome handles a callback addressed by authority reference.
func (c *Coordinator) OnAuthorityOutcome(ctx context.Context, reference string, outcome domain.Outcome) (*OutcomeResult, error) {
	intent, err := c.store.GetIntentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return c.OnPaymentOutcome(ctx, intent.ID, outcome)
}

// OnPaymentOutcome confirms the intent and applies its effects in the same
// transaction: the order transition and, on success, the escrow allocation.
// Replays are answered from the recorded state; a replayed success on an
// order without holds re-attempts the allocation.
func (c *Coordinator) OnPaymentOutcome(ctx context.Context, intentID string, outcome domain.Outcome) (*OutcomeResult, error) {
	ctx, span := tracer.Start(ctx, "payment.outcome", trace.WithAttributes(
		attribute.String("intent.id", intentID),
		attribute.String("payment.outcome", string(outcome)),
	))
	defer span.End()

	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		recordError(span, err)
		return nil, err
	}

	var res *OutcomeResult
	var notes []domain.Notification
	err := c.inTx(ctx, "payment outcome", func(ctx context.Context) error {
		res, notes = nil, nil

		current, err := c.store.GetIntent(ctx, intentID)
		if err != nil {
			return err
		}
		order, err := c.store.LockOrder(ctx, current.OrderID)
		if err != nil {
			return err
		}

		intent, changed, err := c.tracker.Confirm(ctx, intentID, outcome)
		if err != nil {
			return err
		}
		res = &OutcomeResult{Order: order, Intent: intent, Changed: changed}

		if changed {
			from := order.Status
			if err := order.Transition(outcome.OrderEvent()); err != nil {
				return fmt.Errorf("%w: intent %s confirmed while order is %s: %w", domain.ErrInvariantViolation, intent.ID, from, err)
			}
			if err := c.store.UpdateOrderStatus(ctx, order.ID, from, order.Status, c.clock.Now()); err != nil {
				return err
			}
			if intent.Status == domain.IntentStatusFailed {
				notes = append(notes, domain.OrderNotification(c.newID(), order, c.clock.Now()))
				return nil
			}
			res.Holds, err = c.allocator.Allocate(ctx, order, intent)
			return err
		}

		return c.replayOutcome(ctx, res)
	})
	if err != nil {
		c.outcomeFailed(ctx, span, intentID, outcome, err)
		return nil, err
	}

	result := "replayed"
	if res.Changed {
		result = "applied"
	}
	c.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.String("result", result),
	))
	span.SetAttributes(attribute.String("order.id", res.Order.ID), attribute.Bool("payment.changed", res.Changed))
	c.logger.Info("payment outcome processed", "intent_id", intentID, "order_id", res.Order.ID,
		"outcome", outcome, "changed", res.Changed, "order_status", res.Order.Status, "holds", len(res.Holds))

	c.publish(ctx, notes)
	return res, nil
}

// replayOutcome checks that a repeated outcome left a consistent state
// behind, finishing the allocation if it is the missing piece.
func (c *Coordinator) replayOutcome(ctx context.Context, res *OutcomeResult) error {
	order, intent := res.Order, res.Intent
	if order.Status == domain.OrderStatusPendingPayment {
		return fmt.Errorf("%w: intent %s is %s but order %s is still %s",
			domain.ErrInvariantViolation, intent.ID, intent.Status, order.ID, order.Status)
	}

	var err error
	if intent.Status == domain.IntentStatusSucceeded && order.Status == domain.OrderStatusProcessing {
		res.Holds, err = c.allocator.Allocate(ctx, order, intent)
		return err
	}
	res.Holds, err = c.store.HoldsForOrder(ctx, order.ID)
	return err
}

func (c *Coordinator) outcomeFailed(ctx context.Context, span trace.Span, intentID string, outcome domain.Outcome, err error) {
	code := domain.Code(err)
	c.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.String("result", code),
	))
	recordError(span, err)

	switch {
	case errors.Is(err, domain.ErrConfirmationConflict):
		c.logger.Error("conflicting payment outcome rejected", "intent_id", intentID, "outcome", outcome, "error", err)
	case errors.Is(err, domain.ErrInvariantViolation):
		c.metrics.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "payment_outcome")))
		c.logger.Error("lifecycle invariant violated", "intent_id", intentID, "outcome", outcome, "error", err)
	default:
		c.logger.Error("failed to process payment outcome", "intent_id", intentID, "outcome", outcome, "error", err)
	}
}

// Cancel abandons a checkout that is still awaiting payment and fails its
// pending intent.
func (c *Coordinator) Cancel(ctx context.Context, buyerID, orderID string) (*domain.Order, error) {
	var order *domain.Order
	var notes []domain.Notification
	err := c.inTx(ctx, "cancel", func(ctx context.Context) error {
		notes = nil
		var err error
		order, err = c.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return fmt.Errorf("%w: order %s belongs to another buyer", domain.ErrForbidden, orderID)
		}

		from := order.Status
		if err := order.Transition(domain.EventCheckoutCancelled); err != nil {
			return err
		}
		if err := c.store.UpdateOrderStatus(ctx, order.ID, from, order.Status, c.clock.Now()); err != nil {
			return err
		}
		if _, err := c.tracker.Fail(ctx, order.ID); err != nil {
			return err
		}
		notes = append(notes, domain.OrderNotification(c.newID(), order, c.clock.Now()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("checkout cancelled", "order_id", order.ID, "buyer_id", buyerID)
	c.publish(ctx, notes)
	return order, nil
}

// Settlement is the state of an order after some of its holds resolved.
type Settlement struct {
	Order *domain.Order       `json:"order"`
	Holds []domain.EscrowHold `json:"holds"`
}

// ConfirmReceipt lets the buyer release every undisputed held hold before
// the protection window ends.
func (c *Coordinator) ConfirmReceipt(ctx context.Context, buyerID, orderID string) (*Settlement, error) {
	var res *Settlement
	var notes []domain.Notification
	err := c.inTx(ctx, "confirm receipt", func(ctx context.Context) error {
		res, notes = nil, nil
		order, err := c.store.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return fmt.Errorf("%w: order %s belongs to another buyer", domain.ErrForbidden, orderID)
		}
		if order.Status != domain.OrderStatusProcessing {
			return fmt.Errorf("%w: order %s is %s, not processing", domain.ErrInvalidTransition, order.ID, order.Status)
		}

		holds, err := c.store.HoldsForOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, h := range holds {
			if h.Status != domain.HoldStatusHeld || h.Disputed() {
				continue
			}
			released, err := c.allocator.Resolve(ctx, h.ID, domain.HoldStatusReleased)
			if err != nil {
				return err
			}
			notes = append(notes, domain.HoldNotification(c.newID(), released, c.clock.Now()))
		}

		res, err = c.settle(ctx, order, &notes)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.countResolved(ctx, notes, "buyer_confirmed")
	c.logger.Info("receipt confirmed", "order_id", orderID, "buyer_id", buyerID, "order_status", res.Order.Status)
	c.publish(ctx, notes)
	return res, nil
}

// OpenDispute marks one of the buyer's holds as disputed so the sweep leaves
// it alone until the dispute is resolved.
func (c *Coordinator) OpenDispute(ctx context.Context, buyerID, holdID, reason string) (*domain.EscrowHold, error) {
	ctx, span := tracer.Start(ctx, "escrow.dispute", trace.WithAttributes(attribute.String("hold.id", holdID)))
	defer span.End()

	var hold *domain.EscrowHold
	err := c.inTx(ctx, "open dispute", func(ctx context.Context) error {
		current, err := c.store.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		order, err := c.store.LockOrder(ctx, current.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return fmt.Errorf("%w: hold %s belongs to another buyer", domain.ErrForbidden, holdID)
		}
		hold, err = c.allocator.OpenDispute(ctx, holdID, reason)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	c.logger.Info("dispute opened", "hold_id", hold.ID, "order_id", hold.OrderID, "buyer_id", buyerID)
	return hold, nil
}

// ResolveDispute releases or refunds a disputed hold, then derives the order
// status once every hold is terminal.
func (c *Coordinator) ResolveDispute(ctx context.Context, holdID string, outcome domain.HoldOutcome) (*Settlement, error) {
	ctx, span := tracer.Start(ctx, "escrow.dispute", trace.WithAttributes(
		attribute.String("hold.id", holdID),
		attribute.String("hold.outcome", string(outcome)),
	))
	defer span.End()

	if _, err := domain.ParseHoldOutcome(string(outcome)); err != nil {
		recordError(span, err)
		return nil, err
	}

	var res *Settlement
	var notes []domain.Notification
	err := c.inTx(ctx, "resolve dispute", func(ctx context.Context) error {
		res, notes = nil, nil
		current, err := c.store.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		order, err := c.store.LockOrder(ctx, current.OrderID)
		if err != nil {
			return err
		}
		current, err = c.store.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		if !current.Disputed() {
			return fmt.Errorf("%w: hold %s is not disputed", domain.ErrInvalidTransition, holdID)
		}

		resolved, err := c.allocator.Resolve(ctx, holdID, outcome)
		if err != nil {
			return err
		}
		notes = append(notes, domain.HoldNotification(c.newID(), resolved, c.clock.Now()))

		res, err = c.settle(ctx, order, &notes)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	c.countResolved(ctx, notes, "dispute")
	c.logger.Info("dispute resolved", "hold_id", holdID, "outcome", outcome, "order_id", res.Order.ID, "order_status", res.Order.Status)
	c.publish(ctx, notes)
	return res, nil
}

// settle derives the order's terminal status from its holds. The order must
// be locked by the caller. It is the only place an order completes.
func (c *Coordinator) settle(ctx context.Context, order *domain.Order, notes *[]domain.Notification) (*Settlement, error) {
	holds, err := c.store.HoldsForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	res := &Settlement{Order: order, Holds: holds}

	event, ok := domain.SettlementEvent(holds)
	if !ok || order.Status != domain.OrderStatusProcessing {
		return res, nil
	}

	from := order.Status
	if err := order.Transition(event); err != nil {
		return nil, err
	}
	if err := c.store.UpdateOrderStatus(ctx, order.ID, from, order.Status, c.clock.Now()); err != nil {
		return nil, err
	}
	*notes = append(*notes, domain.OrderNotification(c.newID(), order, c.clock.Now()))
	return res, nil
}

// RecoverUnallocated finishes allocations for succeeded intents whose order
// has no holds. Each call examines the next batch after the previous one and
// wraps around once it reaches the end. It returns how many orders were
// repaired.
func (c *Coordinator) RecoverUnallocated(ctx context.Context) (int, error) {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	intents, err := c.store.SucceededIntentsWithoutHolds(ctx, c.recoverAfter, c.recoverID, c.sweepBatch)
	if err != nil {
		return 0, err
	}
	if len(intents) < c.sweepBatch {
		c.recoverAfter, c.recoverID = time.Time{}, ""
	} else {
		last := intents[len(intents)-1]
		c.recoverAfter, c.recoverID = *last.ConfirmedAt, last.ID
	}

	recovered := 0
	for _, intent := range intents {
		err := c.inTx(ctx, "recover allocation", func(ctx context.Context) error {
			order, err := c.store.LockOrder(ctx, intent.OrderID)
			if err != nil {
				return err
			}
			current, err := c.store.GetIntent(ctx, intent.ID)
			if err != nil {
				return err
			}

			switch order.Status {
			case domain.OrderStatusPendingPayment:
				c.metrics.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "paid_order_pending")))
				c.logger.Error("paid order still awaiting payment, repairing", "order_id", order.ID, "intent_id", current.ID)
				if err := order.Transition(domain.EventPaymentSucceeded); err != nil {
					return err
				}
				if err := c.store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPendingPayment, order.Status, c.clock.Now()); err != nil {
					return err
				}
			case domain.OrderStatusProcessing:
			default:
				return fmt.Errorf("%w: order %s is %s with succeeded intent %s and no holds",
					domain.ErrInvariantViolation, order.ID, order.Status, current.ID)
			}

			_, err = c.allocator.Allocate(ctx, order, current)
			return err
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				c.metrics.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "unallocated_terminal_order")))
			}
			c.logger.Error("failed to recover allocation", "intent_id", intent.ID, "order_id", intent.OrderID, "error", err)
			continue
		}
		recovered++
		c.logger.Warn("recovered missing escrow allocation", "intent_id", intent.ID, "order_id", intent.OrderID)
	}
	return recovered, nil
}

type OrderView struct {
	Order   *domain.Order          `json:"order"`
	Intents []domain.PaymentIntent `json:"intents"`
	Holds   []domain.EscrowHold    `json:"holds"`
}

// GetOrder returns an order with its intents and holds. Only the buyer and
// the order's sellers may read it.
func (c *Coordinator) GetOrder(ctx context.Context, userID, orderID string) (*OrderView, error) {
	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(order, userID) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}

	intents, err := c.store.IntentsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	holds, err := c.store.HoldsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Intents: intents, Holds: holds}, nil
}

func (c *Coordinator) ListOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return c.store.ListOrdersByBuyer(ctx, buyerID, limit)
}

func canView(order *domain.Order, userID string) bool {
	if order.BuyerID == userID {
		return true
	}
	for _, item := range order.Items {
		if item.SellerID == userID {
			return true
		}
	}
	return false
}

func (c *Coordinator) publish(ctx context.Context, notes []domain.Notification) {
	if c.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.logger.Error("failed to publish notification", "topic", n.Topic, "order_id", n.OrderID, "hold_id", n.HoldID, "error", err)
		}
	}
}

func (c *Coordinator) countResolved(ctx context.Context, notes []domain.Notification, trigger string) {
	for _, n := range notes {
		var status domain.HoldStatus
		switch n.Topic {
		case domain.TopicEscrowReleased:
			status = domain.HoldStatusReleased
		case domain.TopicEscrowRefunded:
			status = domain.HoldStatusRefunded
		default:
			continue
		}
		c.metrics.holdsResolved.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.String("trigger", trigger),
		))
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
