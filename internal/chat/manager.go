package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/memory"
	"github.com/ashureev/marketing-hub/internal/metrics"
)

// ManagerConfig holds what every session shares.
type ManagerConfig struct {
	NewConn   ConnectionFactory
	Fallback  Fallback
	Memory    *memory.Registry
	Store     MessageStore
	Refresher Refresher
	Log       ConversationLogger
	Token     string
	Logger    *slog.Logger
}

// SessionManager holds one Session per user and tab.
type SessionManager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]map[string]*Session

	// openMu serialises session creation so a tab is loaded once.
	openMu sync.Mutex
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.NewRegistry(nil, memory.DefaultCapacity, logger)
	}
	return &SessionManager{
		cfg:    cfg,
		logger: logger,
		active: make(map[string]map[string]*Session),
	}
}

// Token returns the credential sessions present to the chat backend.
func (m *SessionManager) Token() string { return m.cfg.Token }

// Memory returns the memory store for userID.
func (m *SessionManager) Memory(ctx context.Context, userID string) *memory.Store {
	return m.cfg.Memory.For(ctx, userID)
}

// GetActive returns the session for a user and tab, or nil.
func (m *SessionManager) GetActive(userID, sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Open returns the session for a user and tab, creating and loading it on
// first use.
func (m *SessionManager) Open(ctx context.Context, userID, sessionID string) *Session {
	if s := m.GetActive(userID, sessionID); s != nil {
		return s
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()
	if s := m.GetActive(userID, sessionID); s != nil {
		return s
	}

	// Build outside mu: loading touches the database.
	s := NewSession(userID, sessionID, SessionDeps{
		NewConn:   m.cfg.NewConn,
		Fallback:  m.cfg.Fallback,
		Memory:    m.cfg.Memory.For(ctx, userID),
		Store:     m.cfg.Store,
		Refresher: m.cfg.Refresher,
		Log:       m.cfg.Log,
		Logger:    m.logger,
	})
	s.Load(ctx)

	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*Session)
	}
	m.active[userID][sessionID] = s
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.logger.Info("Chat session opened", "user_id", userID, "session_id", sessionID)
	return s
}

// Release closes the session when no socket is attached any more.
func (m *SessionManager) Release(userID, sessionID string) {
	m.mu.Lock()
	sessions, ok := m.active[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s, exists := sessions[sessionID]
	if !exists || s.Attached() > 0 {
		m.mu.Unlock()
		return
	}
	m.removeLocked(userID, sessionID)
	m.mu.Unlock()

	s.Close()
	m.logger.Info("Chat session released", "user_id", userID, "session_id", sessionID)
}

func (m *SessionManager) removeLocked(userID, sessionID string) {
	sessions := m.active[userID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	metrics.ActiveSessions.Dec()
}

// CloseSession terminates all sessions for a user.
func (m *SessionManager) CloseSession(userID string) {
	m.mu.Lock()
	sessions := m.active[userID]
	var closing []*Session
	for sid, s := range sessions {
		closing = append(closing, s)
		m.removeLocked(userID, sid)
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	m.cfg.Memory.Drop(userID)
}

// SweepIdle closes sessions with no attached socket and no input since
// maxIdle ago. It returns how many were closed.
func (m *SessionManager) SweepIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var closing []*Session
	for uid, sessions := range m.active {
		for sid, s := range sessions {
			if s.IdleSince(cutoff) {
				closing = append(closing, s)
				m.removeLocked(uid, sid)
			}
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	return len(closing)
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Notify delivers ev to every matching session.
func (m *SessionManager) Notify(ctx context.Context, ev events.Event) int {
	m.mu.RLock()
	var targets []*Session
	for uid, sessions := range m.active {
		if ev.UserID != "" && ev.UserID != uid {
			continue
		}
		for _, s := range sessions {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if s.Notify(ctx, ev) {
			n++
		}
	}
	return n
}

// Consume appends every event from ch to the matching sessions until ch
// closes or ctx is done.
func (m *SessionManager) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n := m.Notify(ctx, ev)
			m.logger.Debug("Notification delivered to chat sessions", "kind", ev.Kind, "sessions", n)
		}
	}
}

// CloseAll closes every session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	var closing []*Session
	for uid, sessions := range m.active {
		for sid, s := range sessions {
			closing = append(closing, s)
			m.removeLocked(uid, sid)
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
}
