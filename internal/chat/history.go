package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/marketing-hub/internal/domain"
)

// maxHistory bounds how many messages a session keeps and reloads.
const maxHistory = 500

var (
	// ErrMessageNotFound reports an unknown message id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotNotification reports an attempt to mark a chat turn as read.
	ErrNotNotification = errors.New("only notifications can be marked read")
)

// MessageStore persists a session's history.
type MessageStore interface {
	AppendMessage(ctx context.Context, userID, sessionID string, msg domain.ChatMessage) error
	ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.ChatMessage, error)
	MarkMessageRead(ctx context.Context, userID, sessionID, messageID string) error
	DeleteMessages(ctx context.Context, userID, sessionID string) (int64, error)
}

// History is an append-only conversation log. Messages are kept in the
// order appends complete; the only mutation is the Read flag on
// notifications.
type History struct {
	userID    string
	sessionID string
	store     MessageStore
	logger    *slog.Logger

	mu   sync.RWMutex
	msgs []domain.ChatMessage
}

// NewHistory creates an empty history. store may be nil.
func NewHistory(userID, sessionID string, store MessageStore, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{userID: userID, sessionID: sessionID, store: store, logger: logger}
}

// Load replaces the in-memory history with the persisted one.
func (h *History) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	msgs, err := h.store.ListMessages(ctx, h.userID, h.sessionID, maxHistory)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	h.mu.Lock()
	h.msgs = msgs
	h.mu.Unlock()
	return nil
}

// Append adds msg and persists it. Persistence failures are logged; the
// message stays in memory.
func (h *History) Append(ctx context.Context, msg domain.ChatMessage) domain.ChatMessage {
	if msg.ID == "" {
		msg.ID = domain.NewMessageID()
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindChat
	}
	if !msg.IsNotification() {
		msg.Read = false
	}

	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	if over := len(h.msgs) - maxHistory; over > 0 {
		h.msgs = append([]domain.ChatMessage(nil), h.msgs[over:]...)
	}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.AppendMessage(ctx, h.userID, h.sessionID, msg); err != nil {
			h.logger.Warn("Failed to persist chat message", "user_id", h.userID, "message_id", msg.ID, "error", err)
		}
	}
	return msg
}

// Messages returns a copy of the history, oldest first.
func (h *History) Messages() []domain.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]domain.ChatMessage(nil), h.msgs...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Unread counts notifications not yet acknowledged.
func (h *History) Unread() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.msgs {
		if m.IsNotification() && !m.Read {
			n++
		}
	}
	return n
}

// MarkRead acknowledges the notification with id. Marking twice is a no-op.
func (h *History) MarkRead(ctx context.Context, id string) error {
	h.mu.Lock()
	idx := -1
	for i := range h.msgs {
		if h.msgs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return ErrMessageNotFound
	}
	if !h.msgs[idx].IsNotification() {
		h.mu.Unlock()
		return ErrNotNotification
	}
	already := h.msgs[idx].Read
	h.msgs[idx].Read = true
	h.mu.Unlock()

	if already || h.store == nil {
		return nil
	}
	if err := h.store.MarkMessageRead(ctx, h.userID, h.sessionID, id); err != nil {
		h.logger.Warn("Failed to persist read flag", "user_id", h.userID, "message_id", id, "error", err)
	}
	return nil
}

// Reset clears the history in memory and in the store.
func (h *History) Reset(ctx context.Context) error {
	h.mu.Lock()
	h.msgs = nil
	h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	if _, err := h.store.DeleteMessages(ctx, h.userID, h.sessionID); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}
