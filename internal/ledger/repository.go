package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists orders, payment intents and escrow holds in Postgres.
// Every method joins the transaction carried by ctx when there is one.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTx runs fn inside a read-committed transaction. Row locks taken with
// the Lock* methods are held until fn returns. Nested calls reuse the outer
// transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageError("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return storageError("commit tx", tx.Commit())
}

func (r *Repository) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

func (r *Repository) InsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, total, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.BuyerID, order.Total, order.Currency, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return storageError("insert order", err)
	}

	for i, item := range order.Items {
		_, err = r.q(ctx).ExecContext(ctx, `
			INSERT INTO order_line_items (order_id, position, product_id, seller_id, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i, item.ProductID, item.SellerID, item.Price, item.Quantity)
		if err != nil {
			return storageError("insert line item", err)
		}
	}
	return nil
}

const orderColumns = `id, buyer_id, total, currency, status, created_at, updated_at`

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.loadOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockOrder reads the order and holds its row lock for the rest of the
// transaction. The order row is always the first lock a lifecycle
// transaction takes.
func (r *Repository) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.loadOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) loadOrder(ctx context.Context, query, id string) (*domain.Order, error) {
	order := &domain.Order{}
	err := r.q(ctx).QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.BuyerID, &order.Total, &order.Currency, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		return nil, storageError("get order", err)
	}

	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT product_id, seller_id, price, quantity
		FROM order_line_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, storageError("get line items", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.SellerID, &item.Price, &item.Quantity); err != nil {
			return nil, storageError("scan line item", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("get line items", err)
	}
	return order, nil
}

// UpdateOrderStatus moves the order from one status to another. It fails
// with domain.ErrInvalidTransition when the stored status is not from.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	result, err := r.q(ctx).ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, at)
	if err != nil {
		return storageError("update order status", err)
	}
	return expectOneRow(result, "order", id, string(from))
}

func (r *Repository) ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, buyerID, limit)
	if err != nil {
		return nil, storageError("list orders", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.BuyerID, &order.Total, &order.Currency, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, storageError("scan order", err)
		}
		order.Items = []domain.LineItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list orders", err)
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.q(ctx).QueryContext(ctx, `
		SELECT order_id, product_id, seller_id, price, quantity
		FROM order_line_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, storageError("list line items", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.LineItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Price, &item.Quantity); err != nil {
			return nil, storageError("scan line item", err)
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, storageError("list line items", err)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

const intentColumns = `id, order_id, reference, amount, currency, status, created_at, confirmed_at`

// InsertIntent stores a pending intent. A second pending intent for the same
// order violates a partial unique index and surfaces as
// domain.ErrDuplicateIntent; a reused reference is an invariant violation.
func (r *Repository) InsertIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, intent.ID, intent.OrderID, intent.Reference, intent.Amount, intent.Currency, intent.Status, intent.CreatedAt, nullTime(intent.ConfirmedAt))
	if err != nil {
		return intentInsertError(intent, err)
	}
	return nil
}

func (r *Repository) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return r.loadIntent(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
}

func (r *Repository) LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return r.loadIntent(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) GetIntentByReference(ctx context.Context, reference string) (*domain.PaymentIntent, error) {
	return r.loadIntent(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE reference = $1`, reference)
}

func (r *Repository) loadIntent(ctx context.Context, query string, arg string) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, fmt.Errorf("%w: payment intent %s", domain.ErrNotFound, arg)
		}
		return nil, storageError("get intent", err)
	}
	return intent, nil
}

// ActiveIntentForOrder returns the pending intent of an order, or nil when
// there is none.
func (r *Repository) ActiveIntentForOrder(ctx context.Context, orderID string) (*domain.PaymentIntent, error) {
	intent, err := scanIntent(r.q(ctx).QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE order_id = $1 AND status = $2
	`, orderID, domain.IntentStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError("get active intent", err)
	}
	return intent, nil
}

func (r *Repository) IntentsForOrder(ctx context.Context, orderID string) ([]domain.PaymentIntent, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, storageError("list intents", err)
	}
	return collectIntents(rows)
}

func (r *Repository) UpdateIntentStatus(ctx context.Context, id string, from, to domain.IntentStatus, confirmedAt time.Time) error {
	result, err := r.q(ctx).ExecContext(ctx, `
		UPDATE payment_intents SET status = $3, confirmed_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, confirmedAt)
	if err != nil {
		return storageError("update intent status", err)
	}
	return expectOneRow(result, "payment intent", id, string(from))
}

// SucceededIntentsWithoutHolds finds paid orders whose allocation never
// committed, ordered by confirmation time and id, starting after the
// (after, afterID) key. Orders already completed or cancelled are skipped.
func (r *Repository) SucceededIntentsWithoutHolds(ctx context.Context, after time.Time, afterID string, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT i.id, i.order_id, i.reference, i.amount, i.currency, i.status, i.created_at, i.confirmed_at
		FROM payment_intents i
		JOIN orders o ON o.id = i.order_id
		WHERE i.status = $1
		  AND o.status IN ($2, $3)
		  AND (i.confirmed_at, i.id) > ($4, $5)
		  AND NOT EXISTS (SELECT 1 FROM escrow_holds h WHERE h.order_id = i.order_id)
		ORDER BY i.confirmed_at, i.id
		LIMIT $6
	`, domain.IntentStatusSucceeded, domain.OrderStatusPendingPayment, domain.OrderStatusProcessing, after, afterID, limit)
	if err != nil {
		return nil, storageError("list unallocated intents", err)
	}
	return collectIntents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	var confirmedAt sql.NullTime
	if err := row.Scan(&intent.ID, &intent.OrderID, &intent.Reference, &intent.Amount, &intent.Currency, &intent.Status, &intent.CreatedAt, &confirmedAt); err != nil {
		return nil, err
	}
	intent.ConfirmedAt = timePtr(confirmedAt)
	return &intent, nil
}

func collectIntents(rows *sql.Rows) ([]domain.PaymentIntent, error) {
	defer func() { _ = rows.Close() }()

	intents := []domain.PaymentIntent{}
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, storageError("scan intent", err)
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list intents", err)
	}
	return intents, nil
}

const holdColumns = `id, order_id, intent_id, buyer_id, seller_id, amount, currency, position, status,
	held_until, disputed_at, dispute_reason, resolved_at, created_at`

// InsertHolds stores a full allocation. The (order_id, seller_id) unique
// constraint rejects a second allocation for the same order.
func (r *Repository) InsertHolds(ctx context.Context, holds []domain.EscrowHold) error {
	for _, h := range holds {
		_, err := r.q(ctx).ExecContext(ctx, `
			INSERT INTO escrow_holds (`+holdColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, h.ID, h.OrderID, h.IntentID, h.BuyerID, h.SellerID, h.Amount, h.Currency, h.Position, h.Status,
			h.HeldUntil, nullTime(h.DisputedAt), h.DisputeReason, nullTime(h.ResolvedAt), h.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: order %s is already allocated", domain.ErrInvariantViolation, h.OrderID)
			}
			return storageError("insert hold", err)
		}
	}
	return nil
}

func (r *Repository) HoldsForOrder(ctx context.Context, orderID string) ([]domain.EscrowHold, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		if isInvalidID(err) {
			return []domain.EscrowHold{}, nil
		}
		return nil, storageError("list holds", err)
	}
	return collectHolds(rows)
}

func (r *Repository) GetHold(ctx context.Context, id string) (*domain.EscrowHold, error) {
	return r.loadHold(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1`, id)
}

func (r *Repository) LockHold(ctx context.Context, id string) (*domain.EscrowHold, error) {
	return r.loadHold(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) loadHold(ctx context.Context, query, id string) (*domain.EscrowHold, error) {
	hold, err := scanHold(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, fmt.Errorf("%w: escrow hold %s", domain.ErrNotFound, id)
		}
		return nil, storageError("get hold", err)
	}
	return hold, nil
}

// UpdateHoldStatus persists a resolved hold. It fails with
// domain.ErrInvalidTransition when the stored status is not from.
func (r *Repository) UpdateHoldStatus(ctx context.Context, hold *domain.EscrowHold, from domain.HoldStatus) error {
	result, err := r.q(ctx).ExecContext(ctx, `
		UPDATE escrow_holds SET status = $3, resolved_at = $4
		WHERE id = $1 AND status = $2
	`, hold.ID, from, hold.Status, nullTime(hold.ResolvedAt))
	if err != nil {
		return storageError("update hold status", err)
	}
	return expectOneRow(result, "escrow hold", hold.ID, string(from))
}

func (r *Repository) MarkHoldDisputed(ctx context.Context, id string, at time.Time, reason string) error {
	result, err := r.q(ctx).ExecContext(ctx, `
		UPDATE escrow_holds SET disputed_at = $2, dispute_reason = $3
		WHERE id = $1 AND status = $4 AND disputed_at IS NULL
	`, id, at, reason, domain.HoldStatusHeld)
	if err != nil {
		return storageError("mark hold disputed", err)
	}
	return expectOneRow(result, "escrow hold", id, "held and undisputed")
}

// ExpiredHolds lists undisputed held holds whose protection window ended at
// or before now, oldest first.
func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.EscrowHold, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE status = $1 AND disputed_at IS NULL AND held_until <= $2
		ORDER BY held_until, id
		LIMIT $3
	`, domain.HoldStatusHeld, now, limit)
	if err != nil {
		return nil, storageError("list expired holds", err)
	}
	return collectHolds(rows)
}

func scanHold(row rowScanner) (*domain.EscrowHold, error) {
	var h domain.EscrowHold
	var disputedAt, resolvedAt sql.NullTime
	err := row.Scan(&h.ID, &h.OrderID, &h.IntentID, &h.BuyerID, &h.SellerID, &h.Amount, &h.Currency, &h.Position, &h.Status,
		&h.HeldUntil, &disputedAt, &h.DisputeReason, &resolvedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.DisputedAt = timePtr(disputedAt)
	h.ResolvedAt = timePtr(resolvedAt)
	return &h, nil
}

func collectHolds(rows *sql.Rows) ([]domain.EscrowHold, error) {
	defer func() { _ = rows.Close() }()

	holds := []domain.EscrowHold{}
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, storageError("scan hold", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list holds", err)
	}
	return holds, nil
}

func expectOneRow(result sql.Result, kind, id, from string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storageError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s is no longer %s", domain.ErrInvalidTransition, kind, id, from)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
