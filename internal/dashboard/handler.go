package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/marketing-hub/internal/api"
	"github.com/ashureev/marketing-hub/internal/identity"
)

// Handler exposes GET /api/dashboard/metrics.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a dashboard handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// GetMetrics writes the metrics for the requested range.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rng, err := ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	m, cached, err := h.svc.Metrics(r.Context(), userID, rng)
	if err != nil {
		h.logger.Error("Failed to build dashboard metrics", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	api.JSON(w, http.StatusOK, m)
}
