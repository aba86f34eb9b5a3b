package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/escrowflow/internal/checkout"
	"github.com/joao-fontenele/escrowflow/internal/domain"
	"github.com/joao-fontenele/escrowflow/internal/identity"
)

type Handler struct {
	coord           *checkout.Coordinator
	defaultCurrency string
	logger          *slog.Logger
}

func NewHandler(coord *checkout.Coordinator, defaultCurrency string, logger *slog.Logger) *Handler {
	return &Handler{
		coord:           coord,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// Register mounts the market routes on mux, passing every handler through
// wrap when it is non-nil.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}
	mux.HandleFunc("POST /checkout", wrap(h.HandleCheckout))
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("POST /orders/{id}/cancel", wrap(h.HandleCancel))
	mux.HandleFunc("POST /orders/{id}/confirm-receipt", wrap(h.HandleConfirmReceipt))
	mux.HandleFunc("POST /holds/{id}/dispute", wrap(h.HandleOpenDispute))
	mux.HandleFunc("POST /holds/{id}/resolve", wrap(h.HandleResolveDispute))
	mux.HandleFunc("POST /payments/callback", wrap(h.HandlePaymentCallback))
}

type lineItemRequest struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type checkoutRequest struct {
	Currency string            `json:"currency"`
	Total    *decimal.Decimal  `json:"total,omitempty"`
	Items    []lineItemRequest `json:"items"`
}

// toCheckout converts decimal major-unit prices into minor units.
func (req checkoutRequest) toCheckout(buyerID, defaultCurrency string) (checkout.CheckoutRequest, error) {
	out := checkout.CheckoutRequest{
		BuyerID:  buyerID,
		Currency: req.Currency,
		Items:    make([]domain.LineItem, 0, len(req.Items)),
	}
	if out.Currency == "" {
		out.Currency = defaultCurrency
	}
	for _, item := range req.Items {
		price, err := domain.ToMinorUnits(item.Price)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, domain.LineItem{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Price:     price,
			Quantity:  item.Quantity,
		})
	}
	if req.Total != nil {
		total, err := domain.ToMinorUnits(*req.Total)
		if err != nil {
			return out, err
		}
		out.ClaimedTotal = &total
	}
	return out, nil
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return
	}

	in, err := req.toCheckout(user.UserID, h.defaultCurrency)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.coord.Checkout(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.coord.ListOrders(r.Context(), user.UserID, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("orders listed", "buyer_id", user.UserID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id", "invalid_input")
		return
	}

	view, err := h.coord.GetOrder(r.Context(), user.UserID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}

	order, err := h.coord.Cancel(r.Context(), user.UserID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}

	res, err := h.coord.ConfirmReceipt(r.Context(), user.UserID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleOpenDispute(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return
	}

	hold, err := h.coord.OpenDispute(r.Context(), user.UserID, r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, hold)
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) HandleResolveDispute(w http.ResponseWriter, r *http.Request) {
	user, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !user.Operator() {
		h.writeError(w, http.StatusForbidden, "only operators may resolve disputes", "forbidden")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return
	}
	outcome, err := domain.ParseHoldOutcome(req.Outcome)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.coord.ResolveDispute(r.Context(), r.PathValue("id"), outcome)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("dispute resolved by operator", "hold_id", r.PathValue("id"), "operator_id", user.UserID, "outcome", outcome)
	h.writeJSON(w, http.StatusOK, res)
}

type callbackRequest struct {
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"`
}

// HandlePaymentCallback receives settlement callbacks from the payment
// authority. Callbacks may repeat; replays answer 200 with changed=false.
func (h *Handler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_input")
		return
	}
	if req.Reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing reference", "invalid_input")
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.coord.OnAuthorityOutcome(r.Context(), req.Reference, outcome)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	user, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user identity", "unauthenticated")
		return identity.Identity{}, false
	}
	return user, true
}

func statusFor(code string) int {
	switch code {
	case "invalid_input":
		return http.StatusBadRequest
	case "invalid_transition", "duplicate_intent", "confirmation_conflict":
		return http.StatusConflict
	case "price_mismatch":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "storage_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	code := domain.Code(err)
	status := statusFor(code)

	message := err.Error()
	switch {
	case errors.Is(err, checkout.ErrCheckoutFailed):
		message = checkout.ErrCheckoutFailed.Error()
	case status == http.StatusServiceUnavailable:
		message = "service temporarily unavailable"
	case status == http.StatusInternalServerError:
		h.logger.Error("request failed", "error", err)
		message = "internal server error"
	}
	h.writeError(w, status, message, code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
