package chat

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/identity"
)

// StreamConfig tunes the notification stream.
type StreamConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	// ReplaySize bounds the replay queue; ReplayAge drops older entries.
	ReplaySize int
	ReplayAge  time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ReplaySize <= 0 {
		c.ReplaySize = 256
	}
	if c.ReplayAge <= 0 {
		c.ReplayAge = 10 * time.Minute
	}
	return c
}

// queuedEvent is an event kept for Last-Event-ID replay.
type queuedEvent struct {
	ID    int64
	Event events.Event
	At    time.Time
}

// replayQueue buffers recent events for reconnecting clients.
type replayQueue struct {
	mu      sync.Mutex
	items   *list.List
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

func newReplayQueue(maxSize int, maxAge time.Duration) *replayQueue {
	return &replayQueue{items: list.New(), maxSize: maxSize, maxAge: maxAge, now: time.Now}
}

func (q *replayQueue) Enqueue(id int64, ev events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(&queuedEvent{ID: id, Event: ev, At: q.now()})
	for q.items.Len() > q.maxSize {
		q.items.Remove(q.items.Front())
	}
	q.pruneLocked()
}

// Missed returns the events after afterID visible to userID.
func (q *replayQueue) Missed(userID string, afterID int64) []*queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	var missed []*queuedEvent
	for e := q.items.Front(); e != nil; e = e.Next() {
		qe := e.Value.(*queuedEvent)
		if qe.ID > afterID && visibleTo(qe.Event, userID) {
			missed = append(missed, qe)
		}
	}
	return missed
}

func (q *replayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *replayQueue) pruneLocked() {
	cutoff := q.now().Add(-q.maxAge)
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		if !e.Value.(*queuedEvent).At.Before(cutoff) {
			return
		}
		q.items.Remove(e)
	}
}

func visibleTo(ev events.Event, userID string) bool {
	return ev.UserID == "" || ev.UserID == userID
}

// sseConn is a single SSE client connection.
type sseConn struct {
	id      int64
	userID  string
	w       io.Writer
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

func (c *sseConn) send(eventID int64, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := writeSSEWithID(c.w, eventID, string(ev.Kind), string(data)); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// StreamHandler delivers bus events to browsers over SSE with event IDs
// and replay after reconnect.
type StreamHandler struct {
	cfg    StreamConfig
	queue  *replayQueue
	logger *slog.Logger

	connsMu sync.RWMutex
	conns   map[string]map[int64]*sseConn // userID -> connID -> conn

	counterMu    sync.Mutex
	eventCounter int64
	connCounter  int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates an SSE handler. Feed it with Run.
func NewStreamHandler(cfg StreamConfig, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &StreamHandler{
		cfg:    cfg,
		queue:  newReplayQueue(cfg.ReplaySize, cfg.ReplayAge),
		logger: logger,
		conns:  make(map[string]map[int64]*sseConn),
		done:   make(chan struct{}),
	}
}

// Run fans events from ch out to connected clients until ctx ends, ch
// closes or the handler is closed.
func (h *StreamHandler) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(ev)
		}
	}
}

func (h *StreamHandler) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

func (h *StreamHandler) deliver(ev events.Event) {
	eventID := h.nextEventID()
	h.queue.Enqueue(eventID, ev)

	// Snapshot connections to avoid holding the lock during writes.
	h.connsMu.RLock()
	var targets []*sseConn
	for userID, userConns := range h.conns {
		if !visibleTo(ev, userID) {
			continue
		}
		for _, c := range userConns {
			targets = append(targets, c)
		}
	}
	h.connsMu.RUnlock()

	for _, c := range targets {
		if err := c.send(eventID, ev); err != nil {
			h.logger.Debug("Failed to write SSE event", "error", err, "conn_id", c.id, "user_id", c.userID)
		}
	}
}

// Connections returns the number of open streams.
func (h *StreamHandler) Connections() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	n := 0
	for _, userConns := range h.conns {
		n += len(userConns)
	}
	return n
}

// Close ends Run and all open streams.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeHTTP handles GET /api/events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	// Parse Last-Event-ID header or query param for replay
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.cfg.RetryDelay.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connCounter++
	connID := h.connCounter
	h.counterMu.Unlock()

	conn := &sseConn{id: connID, userID: userID, w: w, flusher: flusher}

	// Replay before registering so missed events precede live ones.
	if lastEventID > 0 {
		missed := h.queue.Missed(userID, lastEventID)
		for _, qe := range missed {
			if err := conn.send(qe.ID, qe.Event); err != nil {
				return
			}
		}
		h.logger.Info("Replayed missed events", "user_id", userID, "count", len(missed), "last_event_id", lastEventID)
	}

	h.connsMu.Lock()
	if _, exists := h.conns[userID]; !exists {
		h.conns[userID] = make(map[int64]*sseConn)
	}
	h.conns[userID][connID] = conn
	h.connsMu.Unlock()

	defer func() {
		h.connsMu.Lock()
		if userConns, exists := h.conns[userID]; exists {
			delete(userConns, connID)
			if len(userConns) == 0 {
				delete(h.conns, userID)
			}
		}
		h.connsMu.Unlock()
		conn.mu.Lock()
		conn.closed = true
		conn.mu.Unlock()
		h.logger.Info("SSE connection closed", "user_id", userID, "conn_id", connID)
	}()

	conn.mu.Lock()
	err := writeSSE(w, "connected", fmt.Sprintf(`{"status":"connected","user_id":%q}`, userID))
	if err == nil {
		flusher.Flush()
	}
	conn.mu.Unlock()
	if err != nil {
		h.logger.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			err := writeSSE(w, "ping", `{"status":"alive"}`)
			if err == nil {
				flusher.Flush()
			}
			conn.mu.Unlock()
			if err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
