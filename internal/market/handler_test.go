package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/escrowflow/internal/checkout"
	"github.com/joao-fontenele/escrowflow/internal/clock"
	"github.com/joao-fontenele/escrowflow/internal/domain"
	"github.com/joao-fontenele/escrowflow/internal/escrow"
	"github.com/joao-fontenele/escrowflow/internal/identity"
	"github.com/joao-fontenele/escrowflow/internal/ledger"
	"github.com/joao-fontenele/escrowflow/internal/payments"
)

type stubAuthority struct{}

func (stubAuthority) Reserve(_ context.Context, key string, _ int64, _ string) (string, error) {
	return "res_" + key, nil
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	var seq atomic.Int64
	newID := func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }

	store := ledger.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tracker := payments.NewTracker(store, stubAuthority{}, payments.WithClock(clk), payments.WithIDGenerator(newID))
	allocator := escrow.NewAllocator(store, escrow.WithClock(clk), escrow.WithIDGenerator(newID))
	coord := checkout.NewCoordinator(store, tracker, allocator, logger,
		checkout.WithClock(clk),
		checkout.WithIDGenerator(newID),
		checkout.WithRetry(1, time.Millisecond),
	)

	mux := http.NewServeMux()
	NewHandler(coord, "usd", logger).Register(mux, nil)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, user, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(identity.UserHeader, user)
	}
	if role != "" {
		req.Header.Set(identity.RoleHeader, role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

const twoSellerCheckout = `{"items":[
	{"product_id":"acct-1","seller_id":"seller-a","price":"30.00"},
	{"product_id":"acct-2","seller_id":"seller-b","price":70}
],"total":"100"}`

func TestHandleCheckout(t *testing.T) {
	t.Run("converts decimal prices to minor units", func(t *testing.T) {
		mux := newTestMux(t)
		rec := do(t, mux, http.MethodPost, "/checkout", "buyer-1", "", twoSellerCheckout)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		res := decode[checkout.CheckoutResult](t, rec)
		assert.Equal(t, int64(10000), res.Order.Total)
		assert.Equal(t, "usd", res.Order.Currency)
		assert.Equal(t, domain.OrderStatusPendingPayment, res.Order.Status)
		assert.Equal(t, int64(10000), res.Intent.Amount)
		assert.Equal(t, domain.IntentStatusPending, res.Intent.Status)
	})

	tests := []struct {
		name   string
		user   string
		body   string
		status int
		code   string
	}{
		{"anonymous", "", twoSellerCheckout, http.StatusUnauthorized, "unauthenticated"},
		{"malformed body", "buyer-1", `{`, http.StatusBadRequest, "invalid_input"},
		{"no items", "buyer-1", `{"items":[]}`, http.StatusBadRequest, "invalid_input"},
		{"sub-cent price", "buyer-1", `{"items":[{"product_id":"p","seller_id":"s","price":"1.005"}]}`, http.StatusBadRequest, "invalid_input"},
		{"bad currency", "buyer-1", `{"currency":"dollars","items":[{"product_id":"p","seller_id":"s","price":"1"}]}`, http.StatusBadRequest, "invalid_input"},
		{"total mismatch", "buyer-1", `{"items":[{"product_id":"p","seller_id":"s","price":"1"}],"total":"2"}`, http.StatusUnprocessableEntity, "price_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestMux(t), http.MethodPost, "/checkout", tt.user, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[map[string]string](t, rec)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	started := decode[checkout.CheckoutResult](t, do(t, mux, http.MethodPost, "/checkout", "buyer-1", "", twoSellerCheckout))

	callback := fmt.Sprintf(`{"reference":%q,"outcome":"succeeded"}`, started.Intent.Reference)
	rec := do(t, mux, http.MethodPost, "/payments/callback", "", "", callback)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[checkout.OutcomeResult](t, rec)
	assert.True(t, paid.Changed)
	assert.Equal(t, domain.OrderStatusProcessing, paid.Order.Status)
	require.Len(t, paid.Holds, 2)

	rec = do(t, mux, http.MethodPost, "/payments/callback", "", "", callback)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[checkout.OutcomeResult](t, rec).Changed, "replayed callback must not change state")

	conflict := fmt.Sprintf(`{"reference":%q,"outcome":"failed"}`, started.Intent.Reference)
	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/payments/callback", "", "", conflict).Code)

	holdA := paid.Holds[0].ID
	assert.Equal(t, http.StatusForbidden,
		do(t, mux, http.MethodPost, "/holds/"+holdA+"/dispute", "buyer-2", "", `{"reason":"x"}`).Code)
	rec = do(t, mux, http.MethodPost, "/holds/"+holdA+"/dispute", "buyer-1", "", `{"reason":"account locked"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "account locked", decode[domain.EscrowHold](t, rec).DisputeReason)

	rec = do(t, mux, http.MethodPost, "/orders/"+started.Order.ID+"/confirm-receipt", "buyer-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderStatusProcessing, decode[checkout.Settlement](t, rec).Order.Status,
		"disputed hold keeps the order open")

	assert.Equal(t, http.StatusForbidden,
		do(t, mux, http.MethodPost, "/holds/"+holdA+"/resolve", "buyer-1", "", `{"outcome":"refunded"}`).Code)
	rec = do(t, mux, http.MethodPost, "/holds/"+holdA+"/resolve", "ops-1", "operator", `{"outcome":"refunded"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderStatusCompleted, decode[checkout.Settlement](t, rec).Order.Status)

	rec = do(t, mux, http.MethodGet, "/orders/"+started.Order.ID, "seller-b", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[checkout.OrderView](t, rec)
	assert.Len(t, view.Intents, 1)
	assert.Len(t, view.Holds, 2)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/orders/"+started.Order.ID, "stranger", "", "").Code)

	rec = do(t, mux, http.MethodGet, "/orders?limit=10", "buyer-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Order](t, rec), 1)
}

func TestHandleCancel(t *testing.T) {
	mux := newTestMux(t)
	started := decode[checkout.CheckoutResult](t, do(t, mux, http.MethodPost, "/checkout", "buyer-1", "", twoSellerCheckout))

	assert.Equal(t, http.StatusForbidden,
		do(t, mux, http.MethodPost, "/orders/"+started.Order.ID+"/cancel", "buyer-2", "", "").Code)

	rec := do(t, mux, http.MethodPost, "/orders/"+started.Order.ID+"/cancel", "buyer-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderStatusCancelled, decode[domain.Order](t, rec).Status)

	rec = do(t, mux, http.MethodPost, "/orders/"+started.Order.ID+"/cancel", "buyer-1", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[map[string]string](t, rec)["code"])
}

func TestHandlePaymentCallbackValidation(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `nope`, http.StatusBadRequest},
		{"missing reference", `{"outcome":"succeeded"}`, http.StatusBadRequest},
		{"unknown outcome", `{"reference":"res_1","outcome":"maybe"}`, http.StatusBadRequest},
		{"unknown reference", `{"reference":"res_missing","outcome":"succeeded"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/payments/callback", "", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
