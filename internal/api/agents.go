package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/go-chi/chi/v5"
)

// AgentLister reports the chat backend's agents.
type AgentLister interface {
	AgentStatus(ctx context.Context) ([]backend.AgentStatus, error)
}

// AgentsHandler proxies the backend agent listing.
type AgentsHandler struct {
	lister  AgentLister
	timeout time.Duration
}

// NewAgentsHandler creates an agents handler.
func NewAgentsHandler(lister AgentLister, timeout time.Duration) *AgentsHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AgentsHandler{lister: lister, timeout: timeout}
}

// RegisterRoutes registers the agent status route.
func (h *AgentsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents/status", h.Status)
}

// Status returns the agents the backend reports, or 502 when it cannot be
// reached.
func (h *AgentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	agents, err := h.lister.AgentStatus(ctx)
	if err != nil {
		slog.Warn("Agent status unavailable", "error", err)
		Error(w, http.StatusBadGateway, "chat backend unavailable")
		return
	}
	if agents == nil {
		agents = []backend.AgentStatus{}
	}
	JSON(w, http.StatusOK, map[string]any{"agents": agents})
}
