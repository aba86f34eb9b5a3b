package email

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const idempotencyHeader = "Idempotency-Key"

// maxRemembered bounds the dedupe set; the oldest keys are forgotten first.
const maxRemembered = 10000

type Handler struct {
	logger *slog.Logger
	delay  func() time.Duration

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		delay: func() time.Duration {
			return time.Duration(50+rand.Intn(151)) * time.Millisecond
		},
		seen: make(map[string]struct{}),
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		h.writeError(w, http.StatusBadRequest, "missing recipient")
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key != "" && !h.remember(key) {
		h.logger.Info("duplicate email suppressed", "to", req.To, "idempotency_key", key)
		h.writeJSON(w, http.StatusOK, sendResponse{Status: "duplicate"})
		return
	}

	time.Sleep(h.delay())

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject, "idempotency_key", key)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// remember records key and reports whether it was new.
func (h *Handler) remember(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seen[key]; ok {
		return false
	}
	h.seen[key] = struct{}{}
	h.order = append(h.order, key)
	if len(h.order) > maxRemembered {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}
	return true
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
