package memory

import (
	"context"
	"log/slog"
	"sync"
)

// Registry hands out one Store per owner, loading it on first use.
type Registry struct {
	mu        sync.Mutex
	stores    map[string]*Store
	persister Persister
	capacity  int
	logger    *slog.Logger
}

// NewRegistry creates a registry whose stores share persister and capacity.
func NewRegistry(persister Persister, capacity int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stores:    make(map[string]*Store),
		persister: persister,
		capacity:  capacity,
		logger:    logger,
	}
}

// For returns the store for ownerID. A load failure is logged and an empty
// store is returned so personalisation degrades instead of failing. Loading
// happens outside the registry lock; when two callers race, the first store
// inserted wins.
func (r *Registry) For(ctx context.Context, ownerID string) *Store {
	r.mu.Lock()
	s, ok := r.stores[ownerID]
	r.mu.Unlock()
	if ok {
		return s
	}

	s = NewStore(ownerID, r.persister, r.capacity, r.logger)
	if err := s.Load(ctx); err != nil {
		r.logger.Warn("failed to load memory, starting empty", "owner_id", ownerID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores[ownerID]; ok {
		return existing
	}
	r.stores[ownerID] = s
	return s
}

// Drop forgets the cached store for ownerID.
func (r *Registry) Drop(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, ownerID)
}
