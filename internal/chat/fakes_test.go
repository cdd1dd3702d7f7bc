package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/ashureev/marketing-hub/internal/domain"
)

// fakeConn is a scripted backend connection.
type fakeConn struct {
	mu        sync.Mutex
	opts      backend.Options
	state     domain.ConnectionState
	online    bool
	sent      []backend.Envelope
	connects  int
	tokens    []string
	polling   int
	closed    bool
	reconnect int
}

func (f *fakeConn) Connect(_ context.Context, _ string, token string) bool {
	f.mu.Lock()
	f.connects++
	f.tokens = append(f.tokens, token)
	if f.online {
		f.state = domain.StateConnected
	} else {
		f.state = domain.StateError
	}
	st := domain.ConnectionStatus{State: f.state}
	cb := f.opts.OnStatus
	ok := f.online
	f.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return ok
}

func (f *fakeConn) Reconnect(ctx context.Context) bool {
	f.mu.Lock()
	f.reconnect++
	f.mu.Unlock()
	return f.Connect(ctx, "", "")
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.state = domain.StateDisconnected
	f.mu.Unlock()
}

func (f *fakeConn) SendMessage(_ context.Context, env backend.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != domain.StateConnected {
		return false
	}
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeConn) Status() domain.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = domain.StateDisconnected
	}
	return domain.ConnectionStatus{State: state, MaxRetries: 5}
}

func (f *fakeConn) CheckHealth(context.Context) backend.HealthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return backend.HealthResult{}
	}
	ms := int64(7)
	return backend.HealthResult{IsOnline: true, LatencyMs: &ms}
}

func (f *fakeConn) StartHealthPolling(context.Context) {
	f.mu.Lock()
	f.polling++
	f.mu.Unlock()
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.state = domain.StateDisconnected
	f.mu.Unlock()
}

// deliver simulates a frame arriving from the chat backend.
func (f *fakeConn) deliver(env backend.Envelope) {
	f.mu.Lock()
	cb := f.opts.OnMessage
	f.mu.Unlock()
	cb(env)
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// connFactory hands out fakeConns and remembers them.
type connFactory struct {
	mu     sync.Mutex
	online bool
	conns  []*fakeConn
}

func (c *connFactory) New(opts backend.Options) Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc := &fakeConn{opts: opts, online: c.online}
	c.conns = append(c.conns, fc)
	return fc
}

func (c *connFactory) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *connFactory) last() *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[len(c.conns)-1]
}

type fakeFallback struct {
	mu    sync.Mutex
	reply string
	agent string
	err   error
	reqs  []backend.ChatRequest
}

func (f *fakeFallback) Chat(_ context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &backend.ChatResponse{Response: f.reply, Agent: f.agent}, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeRefresher) Invalidate(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

// memMessages is an in-memory MessageStore.
type memMessages struct {
	mu      sync.Mutex
	msgs    map[string][]domain.ChatMessage
	failing bool
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[string][]domain.ChatMessage)}
}

var errStoreDown = errors.New("store down")

func (m *memMessages) AppendMessage(_ context.Context, userID, sessionID string, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errStoreDown
	}
	key := userID + ":" + sessionID
	m.msgs[key] = append(m.msgs[key], msg)
	return nil
}

func (m *memMessages) ListMessages(_ context.Context, userID, sessionID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errStoreDown
	}
	msgs := m.msgs[userID+":"+sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (m *memMessages) MarkMessageRead(_ context.Context, userID, sessionID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs[userID+":"+sessionID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Read = true
		}
	}
	return nil
}

func (m *memMessages) DeleteMessages(_ context.Context, userID, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + sessionID
	n := int64(len(m.msgs[key]))
	delete(m.msgs, key)
	return n, nil
}

func (m *memMessages) stored(userID, sessionID string) []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.msgs[userID+":"+sessionID]...)
}
