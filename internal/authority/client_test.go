package authority

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientReserve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reservations", r.URL.Path)

		var req reserveRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, reserveRequest{IdempotencyKey: "intent-1", Amount: 10000, Currency: "usd"}, req)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Reservation{Reference: "res_abc"})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ref, err := client.Reserve(context.Background(), "intent-1", 10000, "usd")
	require.NoError(t, err)
	assert.Equal(t, "res_abc", ref)
}

func TestClientRejectionDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 10; i++ {
		_, err := client.Reserve(context.Background(), "intent-1", 1, "usd")
		require.ErrorIs(t, err, ErrRejected, "attempt %d", i)
	}
	assert.Equal(t, int32(10), calls.Load(), "every call reaches the server")
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 5; i++ {
		_, err := client.Reserve(context.Background(), "intent-1", 1, "usd")
		require.Error(t, err)
	}

	_, err := client.Reserve(context.Background(), "intent-1", 1, "usd")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), calls.Load(), "open breaker short-circuits")
}
