package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// maxFrameSize bounds a single inbound frame from the chat backend.
const maxFrameSize = 1 << 20

// Options wires a Manager to its consumers. Callbacks run outside the
// manager's lock and must not block for long.
type Options struct {
	Health    HealthChecker
	OnMessage func(Envelope)
	OnStatus  func(domain.ConnectionStatus)
	Logger    *slog.Logger
}

// Manager owns at most one logical WebSocket connection to the chat backend.
//
// State transitions: disconnected -> connecting on Connect; connecting ->
// connected on a successful dial, or error with a retry scheduled after
// ReconnectInterval x attempt, or a sticky disconnected once MaxRetries is
// exhausted. A closed socket moves connected -> disconnected and schedules a
// retry. Disconnect cancels everything and resets the retry counter.
type Manager struct {
	cfg       Config
	health    HealthChecker
	onMessage func(Envelope)
	onStatus  func(domain.ConnectionStatus)
	logger    *slog.Logger

	mu          sync.Mutex
	state       domain.ConnectionState
	conn        *websocket.Conn
	retryCount  int
	retryTimer  *time.Timer
	gen         uint64
	identity    string
	token       string
	lastChecked time.Time
	latency     *int64
	closed      bool

	pollCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	health := opts.Health
	if health == nil {
		health = NewHTTPHealthChecker(cfg.BaseURL, cfg.HealthTimeout, nil)
	}
	return &Manager{
		cfg:       cfg,
		health:    health,
		onMessage: opts.OnMessage,
		onStatus:  opts.OnStatus,
		logger:    logger,
		state:     domain.StateDisconnected,
	}
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() domain.ConnectionStatus {
	var latency *int64
	if m.latency != nil {
		v := *m.latency
		latency = &v
	}
	return domain.ConnectionStatus{
		State:       m.state,
		LastChecked: m.lastChecked,
		LatencyMs:   latency,
		RetryCount:  m.retryCount,
		MaxRetries:  m.cfg.MaxRetries,
	}
}

// Connect opens the socket for identity. It is a no-op returning true when a
// connection is already open and returns false while another attempt is in
// flight. A failed dial schedules a retry and returns false.
func (m *Manager) Connect(ctx context.Context, identity, token string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.state == domain.StateConnected && m.conn != nil {
		m.mu.Unlock()
		return true
	}
	if m.state == domain.StateConnecting {
		m.mu.Unlock()
		return false
	}
	m.identity = identity
	m.token = token
	m.gen++
	m.stopTimerLocked()
	m.retryCount = 0
	gen := m.gen
	m.mu.Unlock()

	return m.attempt(ctx, gen)
}

// Reconnect is the manual trigger used after retries were exhausted. It drops
// any current socket and starts over with a fresh retry budget.
func (m *Manager) Reconnect(ctx context.Context) bool {
	m.mu.Lock()
	identity, token := m.identity, m.token
	m.mu.Unlock()

	m.Disconnect()
	return m.Connect(ctx, identity, token)
}

// attempt dials once for generation gen.
func (m *Manager) attempt(ctx context.Context, gen uint64) bool {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return false
	}
	m.state = domain.StateConnecting
	identity, token := m.identity, m.token
	attempt := m.retryCount
	status := m.statusLocked()
	m.mu.Unlock()
	m.notify(status)

	m.logger.Info("Connecting to chat backend", "identity", identity, "attempt", attempt)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, err := m.dial(dialCtx, identity, token)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		// Disconnected while dialling; discard the fresh socket.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
		}
		return false
	}
	if err != nil {
		m.logger.Warn("Chat backend connection failed", "error", err, "attempt", attempt)
		m.state = domain.StateError
		m.scheduleRetryLocked(gen)
		status := m.statusLocked()
		m.mu.Unlock()
		m.notify(status)
		return false
	}

	conn.SetReadLimit(maxFrameSize)
	m.conn = conn
	m.state = domain.StateConnected
	m.retryCount = 0
	status = m.statusLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("Connected to chat backend", "identity", identity)
	m.notify(status)

	go m.readLoop(conn, gen)
	return true
}

func (m *Manager) dial(ctx context.Context, identity, token string) (*websocket.Conn, error) {
	if m.cfg.WSURL == "" {
		return nil, errors.New("chat backend websocket url is not configured")
	}
	u, err := url.Parse(m.cfg.WSURL)
	if err != nil {
		return nil, err
	}
	if identity != "" {
		q := u.Query()
		q.Set("user_id", identity)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// scheduleRetryLocked arms the backoff timer, or makes the disconnected
// state sticky when the retry budget is spent.
func (m *Manager) scheduleRetryLocked(gen uint64) {
	m.stopTimerLocked()
	if m.retryCount >= m.cfg.MaxRetries {
		m.state = domain.StateDisconnected
		m.logger.Warn("Chat backend retries exhausted, waiting for manual reconnect",
			"max_retries", m.cfg.MaxRetries)
		return
	}
	m.retryCount++
	delay := m.cfg.ReconnectInterval * time.Duration(m.retryCount)
	m.logger.Info("Scheduling chat backend reconnect", "attempt", m.retryCount, "delay", delay)
	m.wg.Add(1)
	m.retryTimer = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.attempt(context.Background(), gen)
	})
}

func (m *Manager) stopTimerLocked() {
	if m.retryTimer != nil {
		if m.retryTimer.Stop() {
			// The callback will never run, so release its WaitGroup slot here.
			m.wg.Done()
		}
		m.retryTimer = nil
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	defer m.wg.Done()
	ctx := context.Background()
	for {
		var env Envelope
		err := wsjson.Read(ctx, conn, &env)
		if err != nil {
			m.handleClosed(conn, gen, err)
			return
		}
		if env.Type == FramePing {
			m.write(conn, Envelope{Type: FramePong})
			continue
		}
		if m.onMessage != nil {
			m.onMessage(env)
		}
	}
}

func (m *Manager) handleClosed(conn *websocket.Conn, gen uint64, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = domain.StateDisconnected
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		m.logger.Info("Chat backend closed the connection")
	} else {
		m.logger.Warn("Chat backend connection lost", "error", err)
	}
	if gen == m.gen && !m.closed {
		m.scheduleRetryLocked(gen)
	}
	status := m.statusLocked()
	m.mu.Unlock()
	m.notify(status)
}

// Disconnect cancels pending retries, closes the socket and resets the retry
// counter. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	m.retryCount = 0
	conn := m.conn
	m.conn = nil
	changed := m.state != domain.StateDisconnected
	m.state = domain.StateDisconnected
	status := m.statusLocked()
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug("Failed to close chat backend socket", "error", err)
		}
	}
	if changed {
		m.notify(status)
	}
}

// SendMessage writes env to the open socket. When no socket is open it
// triggers a reconnect attempt in the background and returns false; the
// caller owns re-sending.
func (m *Manager) SendMessage(ctx context.Context, env Envelope) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == domain.StateConnected && conn != nil
	m.mu.Unlock()

	if !connected {
		m.triggerReconnect()
		return false
	}
	return m.writeCtx(ctx, conn, env)
}

// triggerReconnect starts an attempt unless one is already pending, the
// identity is unknown, or the retry budget is spent.
func (m *Manager) triggerReconnect() {
	m.mu.Lock()
	if m.closed || m.identity == "" || m.state == domain.StateConnecting ||
		m.retryTimer != nil || m.retryCount >= m.cfg.MaxRetries {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.attempt(context.Background(), gen)
	}()
}

func (m *Manager) write(conn *websocket.Conn, env Envelope) bool {
	return m.writeCtx(context.Background(), conn, env)
}

func (m *Manager) writeCtx(ctx context.Context, conn *websocket.Conn, env Envelope) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		m.logger.Warn("Chat backend write failed", "error", err, "type", env.Type)
		return false
	}
	return true
}

// CheckHealth probes the backend and records the result. It never fails:
// every error is reported as offline.
func (m *Manager) CheckHealth(ctx context.Context) HealthResult {
	res := m.health.Check(ctx)

	m.mu.Lock()
	m.lastChecked = time.Now()
	m.latency = res.LatencyMs
	m.mu.Unlock()
	return res
}

// StartHealthPolling probes the backend every HealthInterval until ctx is
// done or Close is called.
func (m *Manager) StartHealthPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return
	}
	if m.pollCancel != nil {
		m.pollCancel()
	}
	m.pollCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		wasOnline := true
		for {
			select {
			case <-ticker.C:
				res := m.CheckHealth(ctx)
				if res.IsOnline != wasOnline {
					m.logger.Info("Chat backend health changed", "online", res.IsOnline)
					wasOnline = res.IsOnline
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close disconnects, stops health polling and waits for background
// goroutines. The manager cannot be reused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.mu.Unlock()

	m.Disconnect()
	m.wg.Wait()
}

func (m *Manager) notify(status domain.ConnectionStatus) {
	if m.onStatus != nil {
		m.onStatus(status)
	}
}
