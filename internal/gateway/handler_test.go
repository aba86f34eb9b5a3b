package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/escrowflow/internal/identity"
)

func TestHandler_HandleMarket(t *testing.T) {
	t.Run("proxies GET /orders with identity and query", func(t *testing.T) {
		marketServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/orders", r.URL.Path)
			assert.Equal(t, "limit=5", r.URL.RawQuery)
			assert.Equal(t, "buyer-1", r.Header.Get(identity.UserHeader))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"id":"1"}]`))
		}))
		defer marketServer.Close()

		handler := NewHandler(
			NewServiceProxy(marketServer.URL, marketServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodGet, "/orders?limit=5", nil)
		req.Header.Set(identity.UserHeader, "buyer-1")
		rec := httptest.NewRecorder()

		handler.HandleMarket(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, `[{"id":"1"}]`, rec.Body.String())
	})

	t.Run("proxies POST /checkout with body", func(t *testing.T) {
		marketServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"items":[]}`, string(body))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{"id":"new-id"}}`))
		}))
		defer marketServer.Close()

		handler := NewHandler(
			NewServiceProxy(marketServer.URL, marketServer.Client()),
			NewServiceProxy("http://unused", http.DefaultClient),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"items":[]}`))
		rec := httptest.NewRecorder()

		handler.HandleMarket(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("returns 502 when market service unavailable", func(t *testing.T) {
		handler := NewHandler(
			NewServiceProxy("http://localhost:99999", &http.Client{}),
			NewServiceProxy("http://unused", http.DefaultClient),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		rec := httptest.NewRecorder()

		handler.HandleMarket(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "service unavailable", resp["error"])
	})
}

func TestHandler_HandleAuthority(t *testing.T) {
	t.Run("strips /authority prefix and forwards to authority service", func(t *testing.T) {
		authorityServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/reservations/res_1/settle", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"reference":"res_1","status":"succeeded"}`))
		}))
		defer authorityServer.Close()

		handler := NewHandler(
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy(authorityServer.URL, authorityServer.Client()),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodPost, "/authority/reservations/res_1/settle", strings.NewReader(`{"outcome":"succeeded"}`))
		rec := httptest.NewRecorder()

		handler.HandleAuthority(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("preserves downstream error status", func(t *testing.T) {
		authorityServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"reservation not found"}`))
		}))
		defer authorityServer.Close()

		handler := NewHandler(
			NewServiceProxy("http://unused", http.DefaultClient),
			NewServiceProxy(authorityServer.URL, authorityServer.Client()),
			slog.New(slog.NewTextHandler(io.Discard, nil)),
		)

		req := httptest.NewRequest(http.MethodGet, "/authority/reservations/unknown", nil)
		rec := httptest.NewRecorder()

		handler.HandleAuthority(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
