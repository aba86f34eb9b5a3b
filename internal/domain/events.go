package domain

import "time"

// Notification topics emitted on lifecycle transitions.
const (
	TopicOrderCompleted = "order.completed"
	TopicOrderCancelled = "order.cancelled"
	TopicEscrowReleased = "escrow.released"
	TopicEscrowRefunded = "escrow.refunded"
)

var NotificationTopics = []string{
	TopicOrderCompleted,
	TopicOrderCancelled,
	TopicEscrowReleased,
	TopicEscrowRefunded,
}

// Notification is the fire-and-forget event published after a transition
// commits. RecipientID is the buyer for order events and refunds, and the
// seller for releases.
type Notification struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	OrderID     string    `json:"order_id"`
	HoldID      string    `json:"hold_id,omitempty"`
	RecipientID string    `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}

func OrderNotification(id string, order *Order, now time.Time) Notification {
	topic := TopicOrderCompleted
	if order.Status == OrderStatusCancelled {
		topic = TopicOrderCancelled
	}
	return Notification{
		ID:          id,
		Topic:       topic,
		OrderID:     order.ID,
		RecipientID: order.BuyerID,
		Amount:      order.Total,
		Currency:    order.Currency,
		Timestamp:   now.UTC(),
	}
}

func HoldNotification(id string, hold *EscrowHold, now time.Time) Notification {
	topic, recipient := TopicEscrowReleased, hold.SellerID
	if hold.Status == HoldStatusRefunded {
		topic, recipient = TopicEscrowRefunded, hold.BuyerID
	}
	return Notification{
		ID:          id,
		Topic:       topic,
		OrderID:     hold.OrderID,
		HoldID:      hold.ID,
		RecipientID: recipient,
		Amount:      hold.Amount,
		Currency:    hold.Currency,
		Timestamp:   now.UTC(),
	}
}
