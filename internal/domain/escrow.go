package domain

import (
	"fmt"
	"time"
)

type HoldStatus string

const (
	HoldStatusHeld     HoldStatus = "held"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusRefunded HoldStatus = "refunded"
)

func (s HoldStatus) Terminal() bool {
	return s == HoldStatusReleased || s == HoldStatusRefunded
}

// HoldOutcome is the terminal status a held hold resolves to.
type HoldOutcome = HoldStatus

func ParseHoldOutcome(raw string) (HoldOutcome, error) {
	switch s := HoldStatus(raw); s {
	case HoldStatusReleased, HoldStatusRefunded:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown hold outcome %q", ErrInvalidInput, raw)
	}
}

type EscrowHold struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	IntentID      string     `json:"intent_id"`
	BuyerID       string     `json:"buyer_id"`
	SellerID      string     `json:"seller_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Position      int        `json:"position"`
	Status        HoldStatus `json:"status"`
	HeldUntil     time.Time  `json:"held_until"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty"`
	DisputeReason string     `json:"dispute_reason,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *EscrowHold) Disputed() bool {
	return h.DisputedAt != nil
}

// Releasable reports whether the protection window elapsed on an undisputed
// hold that is still held.
func (h *EscrowHold) Releasable(now time.Time) bool {
	return h.Status == HoldStatusHeld && !h.Disputed() && !h.HeldUntil.After(now)
}

// Resolve moves a held hold to a terminal status.
func (h *EscrowHold) Resolve(outcome HoldOutcome, now time.Time) error {
	if !outcome.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal hold status", ErrInvalidInput, outcome)
	}
	if h.Status != HoldStatusHeld {
		return fmt.Errorf("%w: hold %s is %s, not held", ErrInvalidTransition, h.ID, h.Status)
	}
	at := now.UTC()
	h.Status = outcome
	h.ResolvedAt = &at
	return nil
}

// SettlementEvent derives the order event implied by a fully terminal hold
// set. ok is false while any hold is still held. All released completes the
// order; all refunded cancels it; a mix of both completes it.
func SettlementEvent(holds []EscrowHold) (event OrderEvent, ok bool) {
	if len(holds) == 0 {
		return "", false
	}
	refunded := 0
	for _, h := range holds {
		if !h.Status.Terminal() {
			return "", false
		}
		if h.Status == HoldStatusRefunded {
			refunded++
		}
	}
	if refunded == len(holds) {
		return EventDisputeResolvedRefund, true
	}
	return EventFulfillmentConfirmed, true
}
