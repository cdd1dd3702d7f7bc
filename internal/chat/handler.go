package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/marketing-hub/internal/api"
	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/ashureev/marketing-hub/internal/memory"
	"github.com/ashureev/marketing-hub/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat and memory REST endpoints.
type Handler struct {
	sm          *SessionManager
	limiter     *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates a chat handler. A zero maxBodySize uses 1MB.
func NewHandler(sm *SessionManager, limiter *RateLimiter, maxBodySize int64, logger *slog.Logger) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sm: sm, limiter: limiter, maxBodySize: maxBodySize, logger: logger}
}

type sendRequest struct {
	Message string `json:"message"`
}

// decode reads a JSON body into v, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			api.Error(w, http.StatusBadRequest, "request body is required")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) *Session {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	return h.sm.Open(r.Context(), userID, identity.SessionIDFromContext(r.Context()))
}

// SendMessage handles POST /api/chat/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(s.UserID()) {
		metrics.RateLimitHits.WithLabelValues("chat_http").Inc()
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := s.Handle(r.Context(), req.Message)
	if errors.Is(err, ErrEmptyMessage) {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Chat message failed", "user_id", s.UserID(), "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to handle message")
		return
	}
	api.JSON(w, http.StatusOK, res)
}

// GetHistory handles GET /api/chat/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{
		"messages": s.History().Messages(),
		"unread":   s.History().Unread(),
	})
}

// MarkRead handles POST /api/chat/history/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	err := s.MarkRead(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrMessageNotFound):
		api.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotNotification):
		api.Error(w, http.StatusConflict, err.Error())
	case err != nil:
		api.Error(w, http.StatusInternalServerError, "failed to mark message read")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResetHistory handles DELETE /api/chat/history.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	if err := s.Reset(r.Context()); err != nil {
		h.logger.Error("Failed to reset history", "user_id", s.UserID(), "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to reset history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /api/chat/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	api.JSON(w, http.StatusOK, s.Status())
}

// Reconnect handles POST /api/chat/reconnect.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	ok := s.Reconnect(r.Context())
	api.JSON(w, http.StatusOK, map[string]any{"connected": ok, "status": s.Status()})
}

type rememberRequest struct {
	Key        string   `json:"key"`
	Value      any      `json:"value"`
	Importance *float64 `json:"importance,omitempty"`
}

func (h *Handler) memoryFor(w http.ResponseWriter, r *http.Request) *memory.Store {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	return h.sm.Memory(r.Context(), userID)
}

// ListMemory handles GET /api/memory.
func (h *Handler) ListMemory(w http.ResponseWriter, r *http.Request) {
	store := h.memoryFor(w, r)
	if store == nil {
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"entries": store.ListAll()})
}

// Remember handles POST /api/memory.
func (h *Handler) Remember(w http.ResponseWriter, r *http.Request) {
	store := h.memoryFor(w, r)
	if store == nil {
		return
	}
	var req rememberRequest
	if !h.decode(w, r, &req) {
		return
	}
	importance := domain.DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	key := strings.ToLower(strings.TrimSpace(req.Key))
	err := store.RememberWeighted(r.Context(), key, req.Value, importance)
	if errors.Is(err, memory.ErrEmptyKey) {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Warn("Memory entry not persisted", "key", req.Key, "error", err)
	}
	entry, _ := store.Recall(key)
	api.JSON(w, http.StatusCreated, entry)
}

// Recall handles GET /api/memory/{key}.
func (h *Handler) Recall(w http.ResponseWriter, r *http.Request) {
	store := h.memoryFor(w, r)
	if store == nil {
		return
	}
	entry, ok := store.Recall(chi.URLParam(r, "key"))
	if !ok {
		api.Error(w, http.StatusNotFound, "memory entry not found")
		return
	}
	api.JSON(w, http.StatusOK, entry)
}

// Forget handles DELETE /api/memory/{key}.
func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) {
	store := h.memoryFor(w, r)
	if store == nil {
		return
	}
	found, err := store.Forget(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.logger.Warn("Forget not persisted", "error", err)
	}
	if !found {
		api.Error(w, http.StatusNotFound, "memory entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
