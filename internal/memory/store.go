// Package memory keeps remembered facts and preferences used to personalise
// chat replies. Each owner gets a bounded, importance-ranked store whose
// persistence is delegated to an injected Persister.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
)

// DefaultCapacity is the maximum number of entries kept per owner.
const DefaultCapacity = 100

var ErrEmptyKey = errors.New("memory key is required")

// Persister loads and saves an owner's full set of entries.
type Persister interface {
	LoadMemory(ctx context.Context, ownerID string) ([]domain.MemoryEntry, error)
	SaveMemory(ctx context.Context, ownerID string, entries []domain.MemoryEntry) error
}

// Store is one owner's memory. It is safe for concurrent use.
type Store struct {
	// saveMu orders snapshot-and-save pairs so an older snapshot never
	// overwrites a newer one in the persister.
	saveMu    sync.Mutex
	mu        sync.RWMutex
	ownerID   string
	entries   map[string]domain.MemoryEntry
	capacity  int
	persister Persister
	now       func() time.Time
	logger    *slog.Logger
}

// NewStore creates an empty store. A nil persister keeps entries in memory only.
func NewStore(ownerID string, persister Persister, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		ownerID:   ownerID,
		entries:   make(map[string]domain.MemoryEntry),
		capacity:  capacity,
		persister: persister,
		now:       time.Now,
		logger:    logger,
	}
}

// Load replaces the in-memory entries with the persisted ones.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	entries, err := s.persister.LoadMemory(ctx, s.ownerID)
	if err != nil {
		return fmt.Errorf("load memory for %s: %w", s.ownerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.MemoryEntry, len(entries))
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	s.evictLocked()
	return nil
}

// Remember stores value under key with the default importance.
func (s *Store) Remember(ctx context.Context, key string, value any) error {
	return s.RememberWeighted(ctx, key, value, domain.DefaultImportance)
}

// RememberWeighted upserts key. An existing entry is replaced as a whole.
// Importance is clamped to [0,1].
func (s *Store) RememberWeighted(ctx context.Context, key string, value any, importance float64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	importance = min(max(importance, 0), 1)

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.entries[key] = domain.MemoryEntry{
		Key:        key,
		Value:      value,
		Timestamp:  s.now(),
		Importance: importance,
	}
	evicted := s.evictLocked()
	snapshot := s.sortedLocked()
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Debug("memory entries evicted", "owner_id", s.ownerID, "count", evicted)
	}
	return s.persist(ctx, snapshot)
}

// Recall returns the entry stored under key.
func (s *Store) Recall(key string) (domain.MemoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.TrimSpace(key)]
	return e, ok
}

// Forget removes key. It reports whether an entry was removed.
func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.entries, key)
	snapshot := s.sortedLocked()
	s.mu.Unlock()

	return true, s.persist(ctx, snapshot)
}

// ListAll returns every entry sorted by importance, highest first.
func (s *Store) ListAll() []domain.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sortedLocked orders by importance descending; among equal scores the most
// recent entry comes first so older ones are dropped on eviction.
func (s *Store) sortedLocked() []domain.MemoryEntry {
	out := make([]domain.MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (s *Store) evictLocked() int {
	if len(s.entries) <= s.capacity {
		return 0
	}
	sorted := s.sortedLocked()
	dropped := 0
	for _, e := range sorted[s.capacity:] {
		delete(s.entries, e.Key)
		dropped++
	}
	return dropped
}

func (s *Store) persist(ctx context.Context, entries []domain.MemoryEntry) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveMemory(ctx, s.ownerID, entries); err != nil {
		s.logger.Warn("failed to persist memory", "owner_id", s.ownerID, "error", err)
		return fmt.Errorf("save memory for %s: %w", s.ownerID, err)
	}
	return nil
}
