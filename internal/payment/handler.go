package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/marketing-hub/internal/api"
	"github.com/ashureev/marketing-hub/internal/identity"
)

const maxBodySize = 16 << 10

// Handler exposes the payment endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a payment handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// ListTiers handles GET /api/payments/tiers.
func (h *Handler) ListTiers(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, map[string]any{"tiers": Tiers()})
}

// Charge handles POST /api/payments.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var in ChargeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.svc.Charge(r.Context(), userID, in)
	switch {
	case err == nil:
		api.JSON(w, http.StatusCreated, tx)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrUnknownTier), errors.Is(err, ErrMissingSource):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotRecorded):
		h.logger.Error("Charge not recorded", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "payment outcome could not be recorded")
	case errors.Is(err, ErrDeclined):
		api.JSON(w, http.StatusPaymentRequired, tx)
	case tx != nil:
		api.JSON(w, http.StatusBadGateway, tx)
	default:
		h.logger.Error("Charge failed", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "payment failed")
	}
}

// List handles GET /api/payments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	txs, err := h.svc.History(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list transactions", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
