package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type OrderEvent string

const (
	EventPaymentSucceeded      OrderEvent = "payment_succeeded"
	EventPaymentFailed         OrderEvent = "payment_failed"
	EventFulfillmentConfirmed  OrderEvent = "fulfillment_confirmed"
	EventDisputeResolvedRefund OrderEvent = "dispute_resolved_refund"
	EventCheckoutCancelled     OrderEvent = "checkout_cancelled"
)

type orderTransition struct {
	from  OrderStatus
	event OrderEvent
}

var orderTransitions = map[orderTransition]OrderStatus{
	{OrderStatusPendingPayment, EventPaymentSucceeded}:  OrderStatusProcessing,
	{OrderStatusPendingPayment, EventPaymentFailed}:     OrderStatusCancelled,
	{OrderStatusPendingPayment, EventCheckoutCancelled}: OrderStatusCancelled,
	{OrderStatusProcessing, EventFulfillmentConfirmed}:  OrderStatusCompleted,
	{OrderStatusProcessing, EventDisputeResolvedRefund}: OrderStatusCancelled,
}

// NextOrderStatus returns the status reached by applying event to from.
func NextOrderStatus(from OrderStatus, event OrderEvent) (OrderStatus, error) {
	to, ok := orderTransitions[orderTransition{from: from, event: event}]
	if !ok {
		return from, fmt.Errorf("%w: order cannot apply %s from %s", ErrInvalidTransition, event, from)
	}
	return to, nil
}

type LineItem struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID        string      `json:"id"`
	BuyerID   string      `json:"buyer_id"`
	Items     []LineItem  `json:"items"`
	Total     int64       `json:"total"`
	Currency  string      `json:"currency"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewOrder validates the line items and computes the total from them. A
// caller-supplied total is only compared, never trusted.
func NewOrder(id, buyerID, currency string, items []LineItem, claimedTotal *int64, now time.Time) (*Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no line items", ErrInvalidInput)
	}

	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(items))
	lines := make([]LineItem, len(items))
	var total int64

	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, fmt.Errorf("%w: item %d: product id is required", ErrInvalidInput, i)
		}
		if strings.TrimSpace(item.SellerID) == "" {
			return nil, fmt.Errorf("%w: item %d: seller id is required", ErrInvalidInput, i)
		}
		if item.Price <= 0 {
			return nil, fmt.Errorf("%w: item %d: price must be positive, got %d", ErrInvalidInput, i, item.Price)
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.Quantity != 1 {
			return nil, fmt.Errorf("%w: item %d: quantity must be 1, got %d", ErrInvalidInput, i, item.Quantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: item %d: product %s listed twice", ErrInvalidInput, i, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}

		if total > math.MaxInt64-item.Price {
			return nil, fmt.Errorf("%w: order total overflows", ErrInvalidInput)
		}
		total += item.Price
		lines[i] = item
	}

	if claimedTotal != nil && *claimedTotal != total {
		return nil, fmt.Errorf("%w: claimed total %d, computed %d", ErrPriceMismatch, *claimedTotal, total)
	}

	now = now.UTC()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		Items:     lines,
		Total:     total,
		Currency:  currency,
		Status:    OrderStatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition applies event. On error the order is left untouched.
func (o *Order) Transition(event OrderEvent) error {
	next, err := NextOrderStatus(o.Status, event)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.Status = next
	return nil
}

// SumItems recomputes the total from the line items.
func (o *Order) SumItems() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.Price * int64(item.Quantity)
	}
	return sum
}
