package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ashureev/marketing-hub/internal/metrics"
)

// DefaultTTL is how long generated metrics stay cached.
const DefaultTTL = 5 * time.Minute

// Service serves cached dashboard metrics. Cache failures degrade to
// regenerating on every call.
type Service struct {
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a service. A nil cache uses a MemoryCache.
func NewService(cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

func cacheKey(userID string, r Range) string {
	return "dashboard:metrics:" + userID + ":" + string(r)
}

// Metrics returns the metrics for userID over r and whether they came from
// the cache.
func (s *Service) Metrics(ctx context.Context, userID string, r Range) (*Metrics, bool, error) {
	key := cacheKey(userID, r)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Dashboard cache read failed", "key", key, "error", err)
	}
	if ok {
		var m Metrics
		if err := json.Unmarshal(data, &m); err == nil {
			metrics.DashboardCache.WithLabelValues("hit").Inc()
			return &m, true, nil
		}
		s.logger.Warn("Discarding corrupt dashboard cache entry", "key", key)
	}

	metrics.DashboardCache.WithLabelValues("miss").Inc()
	m := Generate(userID, r, s.now())
	data, err = json.Marshal(m)
	if err != nil {
		return nil, false, err
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("Dashboard cache write failed", "key", key, "error", err)
	}
	return m, false, nil
}

// Invalidate drops every cached range for userID.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	keys := make([]string, 0, len(Ranges))
	for _, r := range Ranges {
		keys = append(keys, cacheKey(userID, r))
	}
	return s.cache.Delete(ctx, keys...)
}
