package domain

import (
	"fmt"
	"time"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed
}

// Outcome is what the payment authority reports for a reservation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

func ParseOutcome(raw string) (Outcome, error) {
	switch o := Outcome(raw); o {
	case OutcomeSucceeded, OutcomeFailed:
		return o, nil
	default:
		return "", fmt.Errorf("%w: unknown payment outcome %q", ErrInvalidInput, raw)
	}
}

// Status is the terminal intent status the outcome leads to.
func (o Outcome) Status() IntentStatus {
	if o == OutcomeSucceeded {
		return IntentStatusSucceeded
	}
	return IntentStatusFailed
}

// OrderEvent is the order event the outcome triggers.
func (o Outcome) OrderEvent() OrderEvent {
	if o == OutcomeSucceeded {
		return EventPaymentSucceeded
	}
	return EventPaymentFailed
}

type PaymentIntent struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"order_id"`
	Reference   string       `json:"reference"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	Status      IntentStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
}

// NewPaymentIntent copies amount and currency from the order so the amount
// check stays local to the intent.
func NewPaymentIntent(id string, order *Order, reference string, now time.Time) *PaymentIntent {
	return &PaymentIntent{
		ID:        id,
		OrderID:   order.ID,
		Reference: reference,
		Amount:    order.Total,
		Currency:  order.Currency,
		Status:    IntentStatusPending,
		CreatedAt: now.UTC(),
	}
}
