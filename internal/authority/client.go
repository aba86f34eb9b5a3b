package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrRejected is returned when the authority refuses a request. Rejections
// do not count against the circuit breaker.
var ErrRejected = errors.New("payment authority rejected the request")

// Client calls the payment authority's reservation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "payment-authority",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Reserve asks the authority to hold amount and returns its reference.
// Retrying with the same key returns the same reference.
func (c *Client) Reserve(ctx context.Context, idempotencyKey string, amount int64, currency string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.reserve(ctx, idempotencyKey, amount, currency)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("payment authority unavailable: %w", err)
		}
		return "", err
	}
	return out.(string), nil
}

func (c *Client) reserve(ctx context.Context, key string, amount int64, currency string) (string, error) {
	data, err := json.Marshal(reserveRequest{IdempotencyKey: key, Amount: amount, Currency: currency})
	if err != nil {
		return "", fmt.Errorf("marshal reserve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reservations", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create reserve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reserve: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payment authority returned status %d", resp.StatusCode)
	}

	var res Reservation
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode reservation: %w", err)
	}
	if res.Reference == "" {
		return "", errors.New("payment authority returned an empty reference")
	}
	return res.Reference, nil
}
