package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

type memoryStore struct {
	mu    sync.Mutex
	byKey map[string]*Reservation
	byRef map[string]*Reservation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byKey: map[string]*Reservation{}, byRef: map[string]*Reservation{}}
}

func (s *memoryStore) Reserve(_ context.Context, key string, amount int64, currency string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.byKey[key]; ok {
		if res.Amount != amount || res.Currency != currency {
			return nil, ErrKeyReused
		}
		return res, nil
	}
	res := &Reservation{Reference: fmt.Sprintf("res_%d", len(s.byKey)+1), IdempotencyKey: key, Amount: amount, Currency: currency, Status: domain.IntentStatusPending}
	s.byKey[key] = res
	s.byRef[res.Reference] = res
	return res, nil
}

func (s *memoryStore) Get(_ context.Context, reference string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.byRef[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return res, nil
}

func (s *memoryStore) Settle(_ context.Context, reference string, status domain.IntentStatus) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.byRef[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if res.Status == domain.IntentStatusPending {
		res.Status = status
	}
	if res.Status != status {
		return nil, ErrAlreadySettled
	}
	return res, nil
}

func newTestHandler(t *testing.T, callbackURL string) (*Handler, *memoryStore, *Dispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemoryStore()
	dispatcher := NewDispatcher(callbackURL, http.DefaultClient, logger)
	dispatcher.initial = time.Millisecond
	return NewHandler(store, dispatcher, logger), store, dispatcher
}

func TestHandleReserve(t *testing.T) {
	h, _, _ := newTestHandler(t, "http://unused")

	reserve := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandleReserve(rec, req)
		return rec
	}

	first := reserve(`{"idempotency_key":"intent-1","amount":10000,"currency":"USD"}`)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var a Reservation
	require.NoError(t, json.NewDecoder(first.Body).Decode(&a))
	assert.Equal(t, "usd", a.Currency, "currency is normalized")

	second := reserve(`{"idempotency_key":"intent-1","amount":10000,"currency":"usd"}`)
	var b Reservation
	require.NoError(t, json.NewDecoder(second.Body).Decode(&b))
	assert.Equal(t, a.Reference, b.Reference, "same key returns the same reference")

	assert.Equal(t, http.StatusUnprocessableEntity, reserve(`{"idempotency_key":"intent-1","amount":1,"currency":"usd"}`).Code, "reused key")
	assert.Equal(t, http.StatusBadRequest, reserve(`{"idempotency_key":"","amount":1}`).Code, "missing key")
	assert.Equal(t, http.StatusBadRequest, reserve(`not json`).Code, "bad body")
}

func TestHandleSettle(t *testing.T) {
	var received atomic.Int32
	var mu sync.Mutex
	var payloads []CallbackPayload
	market := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p CallbackPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer market.Close()

	h, store, dispatcher := newTestHandler(t, market.URL)
	res, _ := store.Reserve(context.Background(), "intent-1", 500, "usd")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reservations/{reference}/settle", h.HandleSettle)
	settle := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reservations/"+res.Reference+"/settle", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := settle(`{"outcome":"succeeded","deliveries":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dispatcher.Wait()
	require.Equal(t, int32(3), received.Load(), "callback delivered once per requested delivery")
	for _, p := range payloads {
		assert.Equal(t, CallbackPayload{Reference: res.Reference, Outcome: domain.OutcomeSucceeded}, p)
	}

	assert.Equal(t, http.StatusOK, settle(`{"outcome":"succeeded"}`).Code, "replayed settlement")
	assert.Equal(t, http.StatusConflict, settle(`{"outcome":"failed"}`).Code, "conflicting settlement")
	assert.Equal(t, http.StatusBadRequest, settle(`{"outcome":"maybe"}`).Code, "unknown outcome")
	dispatcher.Wait()
}

func TestDispatcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	market := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer market.Close()

	d := NewDispatcher(market.URL, http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.initial = time.Millisecond

	err := d.deliver(context.Background(), CallbackPayload{Reference: "res_1", Outcome: domain.OutcomeFailed})
	require.NoError(t, err, "delivery succeeds after retries")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcherStopsOnRejection(t *testing.T) {
	var calls atomic.Int32
	market := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer market.Close()

	d := NewDispatcher(market.URL, http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.initial = time.Millisecond

	err := d.deliver(context.Background(), CallbackPayload{Reference: "res_1", Outcome: domain.OutcomeFailed})
	require.Error(t, err, "rejected callback is not retried")
	assert.Equal(t, int32(1), calls.Load())
}
