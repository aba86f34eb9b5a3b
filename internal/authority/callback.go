package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

// CallbackPayload is what the authority posts to the market when a
// reservation settles.
type CallbackPayload struct {
	Reference string         `json:"reference"`
	Outcome   domain.Outcome `json:"outcome"`
}

// Dispatcher delivers settlement callbacks at least once. A delivery is
// retried with backoff until the receiver answers 2xx or a non-retryable
// 4xx.
type Dispatcher struct {
	callbackURL string
	client      *http.Client
	logger      *slog.Logger
	maxRetries  uint64
	initial     time.Duration
	wg          sync.WaitGroup
}

func NewDispatcher(callbackURL string, client *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		callbackURL: callbackURL,
		client:      client,
		logger:      logger,
		maxRetries:  8,
		initial:     200 * time.Millisecond,
	}
}

// Dispatch sends the callback deliveries times in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, payload CallbackPayload, deliveries int) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < deliveries; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.deliver(ctx, payload); err != nil {
				d.logger.Error("callback delivery failed", "reference", payload.Reference, "outcome", payload.Outcome, "error", err)
				return
			}
			d.logger.Info("callback delivered", "reference", payload.Reference, "outcome", payload.Outcome)
		}()
	}
}

// Wait blocks until every pending delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, payload CallbackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initial
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRetries), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.callbackURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create callback request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("post callback: %w", err)
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("market returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("market rejected callback with status %d", resp.StatusCode))
		}
	}, b)
}
