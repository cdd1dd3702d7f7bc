// Package retention runs the periodic cleanup of expired chat history, idle
// chat sessions and stale cache entries.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/marketing-hub/internal/shared"
)

const defaultInterval = 5 * time.Minute

// MessagePurger deletes chat messages older than a TTL.
type MessagePurger interface {
	CleanupExpiredMessages(ctx context.Context, ttl time.Duration) (int64, error)
}

// SessionSweeper closes chat sessions idle for longer than maxIdle.
type SessionSweeper interface {
	SweepIdle(maxIdle time.Duration) int
}

// CacheSweeper drops expired cache entries.
type CacheSweeper interface {
	Sweep() int
}

// Config controls what the worker removes. Zero durations disable the
// corresponding sweep.
type Config struct {
	Interval    time.Duration
	HistoryTTL  time.Duration
	SessionIdle time.Duration
}

// Worker owns the sweep targets. Nil targets are skipped.
type Worker struct {
	cfg      Config
	messages MessagePurger
	sessions SessionSweeper
	cache    CacheSweeper
	logger   *slog.Logger
}

// NewWorker creates a retention worker.
func NewWorker(cfg Config, messages MessagePurger, sessions SessionSweeper, cache CacheSweeper, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, messages: messages, sessions: sessions, cache: cache, logger: logger}
}

// Start runs the worker in the background until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	go func() {
		defer ticker.Stop()
		w.logger.Info("TTL worker started", "interval", w.cfg.Interval, "history_ttl", w.cfg.HistoryTTL, "session_idle", w.cfg.SessionIdle)

		for {
			select {
			case <-ticker.C:
				w.RunOnce(ctx)
			case <-ctx.Done():
				w.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Report counts what one sweep removed.
type Report struct {
	Messages int64
	Sessions int
	Cache    int
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) Report {
	var rep Report

	if w.sessions != nil && w.cfg.SessionIdle > 0 {
		rep.Sessions = w.sessions.SweepIdle(w.cfg.SessionIdle)
	}

	if w.messages != nil && w.cfg.HistoryTTL > 0 {
		n, err := w.purgeMessagesWithRetry(ctx)
		if err != nil {
			w.logger.Error("TTL worker failed to purge chat history", "error", err)
		}
		rep.Messages = n
	}

	if w.cache != nil {
		rep.Cache = w.cache.Sweep()
	}

	if rep.Messages > 0 || rep.Sessions > 0 || rep.Cache > 0 {
		w.logger.Info("TTL worker cleanup completed",
			"messages", rep.Messages, "sessions", rep.Sessions, "cache_entries", rep.Cache)
	}
	return rep
}

// purgeMessagesWithRetry retries with exponential backoff on SQLITE_BUSY
// errors.
func (w *Worker) purgeMessagesWithRetry(ctx context.Context) (int64, error) {
	var n int64
	err := shared.RetryOnConflict(ctx, "CleanupExpiredMessages", 3, 100*time.Millisecond, func() error {
		var err error
		n, err = w.messages.CleanupExpiredMessages(ctx, w.cfg.HistoryTTL)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge chat history: %w", err)
	}
	return n, nil
}
