package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/escrowflow/internal/domain"
	"github.com/joao-fontenele/escrowflow/internal/messaging"
)

// IdempotencyHeader carries the notification id so the email service can
// drop redelivered messages.
const IdempotencyHeader = "Idempotency-Key"

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		h.logger.Error("dropping malformed notification", "error", err)
		return fmt.Errorf("%w: unmarshal notification: %w", messaging.ErrDiscard, err)
	}

	msg, ok := compose(n)
	if !ok {
		h.logger.Warn("dropping notification with unknown topic", "topic", n.Topic, "notification_id", n.ID)
		return fmt.Errorf("%w: unknown topic %q", messaging.ErrDiscard, n.Topic)
	}

	if err := h.sendEmail(ctx, n.ID, msg); err != nil {
		h.logger.Error("failed to send notification email", "error", err, "topic", n.Topic, "order_id", n.OrderID)
		return fmt.Errorf("send %s email: %w", n.Topic, err)
	}

	h.logger.Info("notification delivered", "topic", n.Topic, "order_id", n.OrderID, "hold_id", n.HoldID, "recipient_id", n.RecipientID)
	return nil
}

func compose(n domain.Notification) (emailMessage, bool) {
	amount := domain.FormatMinorUnits(n.Amount) + " " + n.Currency
	msg := emailMessage{To: n.RecipientID + "@example.com"}

	switch n.Topic {
	case domain.TopicOrderCompleted:
		msg.Subject = "Order Completed: " + n.OrderID
		msg.Body = fmt.Sprintf("Your order %s is complete. Total paid: %s.", n.OrderID, amount)
	case domain.TopicOrderCancelled:
		msg.Subject = "Order Cancelled: " + n.OrderID
		msg.Body = fmt.Sprintf("Your order %s has been cancelled. Any captured payment of %s will be refunded.", n.OrderID, amount)
	case domain.TopicEscrowReleased:
		msg.Subject = "Funds Released: " + n.OrderID
		msg.Body = fmt.Sprintf("Escrow of %s for order %s has been released to you.", amount, n.OrderID)
	case domain.TopicEscrowRefunded:
		msg.Subject = "Refund Issued: " + n.OrderID
		msg.Body = fmt.Sprintf("%s held for order %s has been refunded to you.", amount, n.OrderID)
	default:
		return emailMessage{}, false
	}
	return msg, true
}

func (h *NotificationHandler) sendEmail(ctx context.Context, key string, msg emailMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, key)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
