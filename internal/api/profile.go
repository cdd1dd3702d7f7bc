package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/marketing-hub/internal/config"
	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/ashureev/marketing-hub/internal/shared"
	"github.com/go-chi/chi/v5"
)

const maxCompanyNameRunes = 120

// ProfileHandler serves the current user's profile and client config.
type ProfileHandler struct {
	*Handler
	cfg *config.Config
}

// NewProfileHandler creates a profile handler. cfg may be nil.
func NewProfileHandler(base *Handler, cfg *config.Config) *ProfileHandler {
	return &ProfileHandler{Handler: base, cfg: cfg}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Patch("/me", h.UpdateMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current user's information.
func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":          user.UserID,
		"username":         user.Username,
		"company_name":     user.CompanyName,
		"tier":             user.Tier,
		"has_subscription": user.HasSubscription(),
		"last_seen_at":     user.LastSeenAt,
	})
}

type updateProfileRequest struct {
	CompanyName *string `json:"company_name"`
}

// UpdateMe changes profile fields the user owns.
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyName == nil {
		Error(w, http.StatusBadRequest, "company_name is required")
		return
	}
	company := strings.TrimSpace(*req.CompanyName)
	if len([]rune(company)) > maxCompanyNameRunes {
		Error(w, http.StatusBadRequest, "company_name is too long")
		return
	}

	ctx := r.Context()
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	user.CompanyName = company
	user.UpdatedAt = time.Now()

	if err := h.upsertUserWithRetry(ctx, user); err != nil {
		slog.Error("Failed to update profile", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"company_name": company})
}

// GetConfig returns the server configuration for the frontend.
func (h *ProfileHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	features := map[string]any{
		"development": h.isDevelopment(),
		"personas":    len(domain.Personas()),
	}
	if h.cfg != nil {
		features["payments_enabled"] = h.cfg.Payment.APIKey != ""
		features["shared_cache"] = h.cfg.Dashboard.RedisURL != ""
		features["grpc_health"] = h.cfg.ChatBackend.GRPCAddr != ""
		features["sse_retry_ms"] = h.cfg.SSE.RetryDelay.Milliseconds()
		features["rate_limit"] = h.cfg.RateLimit.RequestsPerWindow
	}
	JSON(w, http.StatusOK, features)
}

// upsertUserWithRetry retries with exponential backoff on SQLITE_BUSY
// errors during concurrent writes.
func (h *ProfileHandler) upsertUserWithRetry(ctx context.Context, user *domain.User) error {
	return shared.RetryOnConflict(ctx, "UpsertUser", 3, 50*time.Millisecond, func() error {
		return h.repo.UpsertUser(ctx, user)
	})
}
