// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
)

// Repository defines the interface for persisting dashboard data.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// UpdateTier records the subscription tier a user paid for.
	UpdateTier(ctx context.Context, userID, tier string) error

	// LoadMemory returns all remembered entries for an owner.
	LoadMemory(ctx context.Context, ownerID string) ([]domain.MemoryEntry, error)

	// SaveMemory replaces all remembered entries for an owner.
	SaveMemory(ctx context.Context, ownerID string, entries []domain.MemoryEntry) error

	// AppendMessage stores a chat message for a user's tab session.
	AppendMessage(ctx context.Context, userID, sessionID string, msg domain.ChatMessage) error

	// ListMessages returns a session's messages oldest first.
	ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.ChatMessage, error)

	// MarkMessageRead flags a stored notification as acknowledged.
	MarkMessageRead(ctx context.Context, userID, sessionID, messageID string) error

	// DeleteMessages removes a session's history.
	DeleteMessages(ctx context.Context, userID, sessionID string) (int64, error)

	// CleanupExpiredMessages removes messages older than ttl.
	CleanupExpiredMessages(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveTransaction inserts or updates a payment transaction.
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error

	// ListTransactions returns a user's transactions newest first.
	ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
