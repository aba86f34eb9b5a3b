package authority

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

const maxDeliveries = 5

type Store interface {
	Reserve(ctx context.Context, key string, amount int64, currency string) (*Reservation, error)
	Get(ctx context.Context, reference string) (*Reservation, error)
	Settle(ctx context.Context, reference string, status domain.IntentStatus) (*Reservation, error)
}

type Handler struct {
	store      Store
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewHandler(store Store, dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type reserveRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" || req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "idempotency_key and a positive amount are required")
		return
	}
	currency, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.store.Reserve(r.Context(), req.IdempotencyKey, req.Amount, currency)
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			h.writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with different parameters")
			return
		}
		h.logger.Error("failed to reserve", "error", err, "idempotency_key", req.IdempotencyKey)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("reservation created", "reference", res.Reference, "amount", res.Amount, "currency", res.Currency)
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing reference")
		return
	}

	res, err := h.store.Get(r.Context(), reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "reservation not found")
			return
		}
		h.logger.Error("failed to get reservation", "error", err, "reference", reference)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

type settleRequest struct {
	Outcome    string `json:"outcome"`
	Deliveries int    `json:"deliveries"`
}

// HandleSettle records the outcome and sends the callback. Deliveries above
// one simulate duplicate callbacks from the authority.
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing reference")
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deliveries := req.Deliveries
	if deliveries <= 0 {
		deliveries = 1
	}
	if deliveries > maxDeliveries {
		deliveries = maxDeliveries
	}

	res, err := h.store.Settle(r.Context(), reference, outcome.Status())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "reservation not found")
		case errors.Is(err, ErrAlreadySettled):
			h.writeError(w, http.StatusConflict, "reservation already settled with a different outcome")
		default:
			h.logger.Error("failed to settle reservation", "error", err, "reference", reference)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if h.dispatcher != nil {
		h.dispatcher.Dispatch(r.Context(), CallbackPayload{Reference: res.Reference, Outcome: outcome}, deliveries)
	}

	h.logger.Info("reservation settled", "reference", res.Reference, "outcome", outcome, "deliveries", deliveries)
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
