package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/ashureev/marketing-hub/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	backend backend.HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. checker may be nil.
func NewHealthHandler(repo store.Repository, checker backend.HealthChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, backend: checker, timeout: timeout}
}

// Health returns the health status of the API and its dependencies. The
// database is required; an offline chat backend only degrades the report
// because chat falls back to REST.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "unhealthy"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend != nil {
		res := h.backend.Check(ctx)
		status["chat_backend"] = res
		if res.IsOnline {
			checks["chat_backend"] = "ok"
		} else {
			checks["chat_backend"] = "unreachable"
			if statusCode == http.StatusOK {
				status["status"] = "degraded"
			}
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
