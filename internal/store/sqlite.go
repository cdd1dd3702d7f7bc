package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises multi-statement writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_entries (
		owner_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		importance REAL NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (owner_id, key)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sender TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		persona TEXT NOT NULL DEFAULT '',
		action_json TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(user_id, session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		gateway_id TEXT NOT NULL DEFAULT '',
		failure_message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, company_name, tier,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username, &user.CompanyName, &user.Tier,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, company_name, tier, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		company_name = excluded.company_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.CompanyName, user.Tier,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// UpdateTier records the subscription tier a user paid for.
func (s *SQLiteStore) UpdateTier(ctx context.Context, userID, tier string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET tier = ?, updated_at = ? WHERE user_id = ?`,
		tier, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update tier for %s: %w", userID, ErrNotFound)
	}
	return nil
}

// LoadMemory returns all remembered entries for an owner.
func (s *SQLiteStore) LoadMemory(ctx context.Context, ownerID string) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value_json, importance, created_at
		FROM memory_entries WHERE owner_id = ?
		ORDER BY importance DESC, created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query memory entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close memory rows", "error", closeErr)
		}
	}()

	var entries []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		var valueJSON string
		var createdAt int64
		if err := rows.Scan(&e.Key, &valueJSON, &e.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
			return nil, fmt.Errorf("decode memory value %q: %w", e.Key, err)
		}
		e.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory entries: %w", err)
	}
	return entries, nil
}

// SaveMemory replaces all remembered entries for an owner in one transaction.
func (s *SQLiteStore) SaveMemory(ctx context.Context, ownerID string, entries []domain.MemoryEntry) error {
	return withConflictRetry(ctx, "SaveMemory", func() error {
		return s.saveMemoryOnce(ctx, ownerID, entries)
	})
}

func (s *SQLiteStore) saveMemoryOnce(ctx context.Context, ownerID string, entries []domain.MemoryEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin memory transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clear memory entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entries (owner_id, key, value_json, importance, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare memory insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("encode memory value %q: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, ownerID, e.Key, string(value), e.Importance, e.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert memory entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit memory entries: %w", err)
	}
	return nil
}

// AppendMessage stores a chat message at the end of a session's history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, sessionID string, msg domain.ChatMessage) error {
	var actionJSON any
	if msg.Action != nil {
		data, err := json.Marshal(msg.Action)
		if err != nil {
			return fmt.Errorf("encode message action: %w", err)
		}
		actionJSON = string(data)
	}

	return withConflictRetry(ctx, "AppendMessage", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_messages (id, user_id, session_id, seq, sender, kind, text, persona, action_json, is_read, created_at)
			VALUES (?, ?, ?,
				(SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE user_id = ? AND session_id = ?),
				?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, userID, sessionID, userID, sessionID,
			string(msg.Sender), string(msg.Kind), msg.Text, string(msg.Persona), actionJSON,
			msg.Read, msg.Timestamp.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
		return nil
	})
}

// ListMessages returns the latest limit messages of a session, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, kind, text, persona, action_json, is_read, created_at FROM (
			SELECT id, sender, kind, text, persona, action_json, is_read, created_at, seq
			FROM chat_messages WHERE user_id = ? AND session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat message rows", "error", closeErr)
		}
	}()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var sender, kind, persona string
		var actionJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &sender, &kind, &m.Text, &persona, &actionJSON, &m.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.Kind = domain.MessageKind(kind)
		m.Persona = domain.PersonaID(persona)
		m.Timestamp = time.UnixMilli(createdAt)
		if actionJSON.Valid {
			var action domain.MessageAction
			if err := json.Unmarshal([]byte(actionJSON.String), &action); err != nil {
				return nil, fmt.Errorf("decode message action: %w", err)
			}
			m.Action = &action
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return msgs, nil
}

// MarkMessageRead flags a stored notification as acknowledged.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, userID, sessionID, messageID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET is_read = 1
		WHERE id = ? AND user_id = ? AND session_id = ? AND kind = ?`,
		messageID, userID, sessionID, string(domain.KindNotification))
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mark message %s read: %w", messageID, ErrNotFound)
	}
	return nil
}

// DeleteMessages removes a session's history.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, userID, sessionID string) (int64, error) {
	var deleted int64
	err := withConflictRetry(ctx, "DeleteMessages", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE user_id = ? AND session_id = ?`, userID, sessionID)
		if err != nil {
			return fmt.Errorf("delete chat messages: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// CleanupExpiredMessages removes messages older than ttl.
func (s *SQLiteStore) CleanupExpiredMessages(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired messages: %w", err)
	}
	return result.RowsAffected()
}

// SaveTransaction inserts or updates a payment transaction.
func (s *SQLiteStore) SaveTransaction(ctx context.Context, t *domain.Transaction) error {
	query := `
	INSERT INTO transactions (id, user_id, tier, amount, amount_minor, currency, description, status, gateway_id, failure_message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		gateway_id = excluded.gateway_id,
		failure_message = excluded.failure_message`

	return withConflictRetry(ctx, "SaveTransaction", func() error {
		_, err := s.db.ExecContext(ctx, query,
			t.ID, t.UserID, t.Tier, t.Amount, t.AmountMinor, t.Currency, t.Description,
			string(t.Status), t.GatewayID, t.FailureMsg, t.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return nil
	})
}

// ListTransactions returns a user's transactions newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tier, amount, amount_minor, currency, description, status, gateway_id, failure_message, created_at
		FROM transactions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transaction rows", "error", closeErr)
		}
	}()

	var txs []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var status string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Tier, &t.Amount, &t.AmountMinor, &t.Currency,
			&t.Description, &status, &t.GatewayID, &t.FailureMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Status = domain.TransactionStatus(status)
		t.CreatedAt = time.UnixMilli(createdAt)
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// withConflictRetry retries op with exponential backoff while SQLite reports
// a busy or locked database.
func withConflictRetry(ctx context.Context, name string, op func() error) error {
	return shared.RetryOnConflict(ctx, name, 3, 50*time.Millisecond, op)
}

var _ Repository = (*SQLiteStore)(nil)
