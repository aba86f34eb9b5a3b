package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createdAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestNewOrder(t *testing.T) {
	t.Run("computes the total from the line items", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "acct-1", SellerID: "seller-a", Price: 3000},
			{ProductID: "acct-2", SellerID: "seller-b", Price: 7000, Quantity: 1},
		}
		order, err := NewOrder("o-1", "buyer-1", "USD", items, ptr(int64(10000)), createdAt)
		require.NoError(t, err)

		assert.Equal(t, int64(10000), order.Total)
		assert.Equal(t, order.Total, order.SumItems())
		assert.Equal(t, "usd", order.Currency)
		assert.Equal(t, OrderStatusPendingPayment, order.Status)
		assert.Equal(t, 1, order.Items[0].Quantity, "zero quantity normalizes to one")
		assert.Equal(t, createdAt, order.CreatedAt)
	})

	t.Run("defaults the currency", func(t *testing.T) {
		order, err := NewOrder("o-1", "buyer-1", "", []LineItem{{ProductID: "p", SellerID: "s", Price: 1}}, nil, createdAt)
		require.NoError(t, err)
		assert.Equal(t, DefaultCurrency, order.Currency)
	})

	tests := []struct {
		name    string
		buyer   string
		items   []LineItem
		claimed *int64
		want    error
	}{
		{"missing buyer", " ", []LineItem{{ProductID: "p", SellerID: "s", Price: 1}}, nil, ErrInvalidInput},
		{"no items", "b", nil, nil, ErrInvalidInput},
		{"missing product", "b", []LineItem{{SellerID: "s", Price: 1}}, nil, ErrInvalidInput},
		{"missing seller", "b", []LineItem{{ProductID: "p", Price: 1}}, nil, ErrInvalidInput},
		{"zero price", "b", []LineItem{{ProductID: "p", SellerID: "s"}}, nil, ErrInvalidInput},
		{"negative price", "b", []LineItem{{ProductID: "p", SellerID: "s", Price: -5}}, nil, ErrInvalidInput},
		{"quantity above one", "b", []LineItem{{ProductID: "p", SellerID: "s", Price: 1, Quantity: 2}}, nil, ErrInvalidInput},
		{"duplicate product", "b", []LineItem{
			{ProductID: "p", SellerID: "s", Price: 1},
			{ProductID: "p", SellerID: "t", Price: 2},
		}, nil, ErrInvalidInput},
		{"overflowing total", "b", []LineItem{
			{ProductID: "p", SellerID: "s", Price: math.MaxInt64},
			{ProductID: "q", SellerID: "s", Price: 1},
		}, nil, ErrInvalidInput},
		{"claimed total differs", "b", []LineItem{{ProductID: "p", SellerID: "s", Price: 100}}, ptr(int64(99)), ErrPriceMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := NewOrder("o-1", tt.buyer, "usd", tt.items, tt.claimed, createdAt)
			assert.Nil(t, order)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOrderTransition(t *testing.T) {
	tests := []struct {
		from  OrderStatus
		event OrderEvent
		to    OrderStatus
	}{
		{OrderStatusPendingPayment, EventPaymentSucceeded, OrderStatusProcessing},
		{OrderStatusPendingPayment, EventPaymentFailed, OrderStatusCancelled},
		{OrderStatusPendingPayment, EventCheckoutCancelled, OrderStatusCancelled},
		{OrderStatusProcessing, EventFulfillmentConfirmed, OrderStatusCompleted},
		{OrderStatusProcessing, EventDisputeResolvedRefund, OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			order := &Order{ID: "o-1", Status: tt.from}
			require.NoError(t, order.Transition(tt.event))
			assert.Equal(t, tt.to, order.Status)
		})
	}

	rejected := []struct {
		from  OrderStatus
		event OrderEvent
	}{
		{OrderStatusPendingPayment, EventFulfillmentConfirmed},
		{OrderStatusProcessing, EventPaymentSucceeded},
		{OrderStatusProcessing, EventCheckoutCancelled},
		{OrderStatusCompleted, EventDisputeResolvedRefund},
		{OrderStatusCancelled, EventPaymentSucceeded},
	}
	for _, tt := range rejected {
		t.Run("rejects "+string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			order := &Order{ID: "o-1", Status: tt.from}
			err := order.Transition(tt.event)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, order.Status, "status must not change")
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "forbidden", Code(errors.Join(errors.New("ctx"), ErrForbidden)))
	assert.Equal(t, "confirmation_conflict", Code(ErrConfirmationConflict))
	assert.Equal(t, "invariant_violation", Code(ErrInvariantViolation))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))

	assert.True(t, IsRetryable(ErrStorageUnavailable))
	assert.False(t, IsRetryable(ErrNotFound))
}
