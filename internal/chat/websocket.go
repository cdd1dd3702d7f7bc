package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/ashureev/marketing-hub/internal/metrics"
	"github.com/coder/websocket"
)

const (
	outboundBuffer = 64
	writeTimeout   = 5 * time.Second
)

// LastSeenRecorder records user activity.
type LastSeenRecorder interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// WebSocketHandler serves the UI chat socket.
type WebSocketHandler struct {
	sm            *SessionManager
	limiter       *RateLimiter
	seen          LastSeenRecorder
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sm *SessionManager, limiter *RateLimiter, seen LastSeenRecorder, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		sm:            sm,
		limiter:       limiter,
		seen:          seen,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// inbound is a frame sent by the UI.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Inbound frame types.
const (
	InMessage   = "message"
	InPing      = "ping"
	InReconnect = "reconnect"
	InAck       = "ack"
	InReset     = "reset"
)

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("Chat socket request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := h.sm.Open(ctx, userID, sessionID)
	defer h.sm.Release(userID, sessionID)

	out := make(chan Outbound, outboundBuffer)
	detach := session.Attach(func(o Outbound) {
		select {
		case out <- o:
		default:
			h.logger.Warn("Chat socket backlog full, dropping frame", "user_id", userID, "type", o.Type)
		}
	})
	defer detach()

	status := session.Status()
	enqueue(out, Outbound{Type: OutHistory, Messages: session.History().Messages()})
	enqueue(out, Outbound{Type: OutStatus, Status: &status})

	var wg sync.WaitGroup
	wg.Add(2)

	// Output loop: session -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, out, userID)
	}()

	go func() {
		defer wg.Done()
		session.Start(ctx, h.sm.Token())
	}()

	h.inputLoop(ctx, ws, session, out, &wg)
	cancel()
	wg.Wait()
	h.logger.Info("Chat socket closed", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, session *Session, out chan<- Outbound, wg *sync.WaitGroup) {
	userID := session.UserID()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			enqueue(out, Outbound{Type: OutError, Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case InMessage:
			if h.limiter != nil && !h.limiter.Allow(userID) {
				metrics.RateLimitHits.WithLabelValues("chat_ws").Inc()
				enqueue(out, Outbound{Type: OutError, Error: "rate limit exceeded"})
				continue
			}
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				if _, err := session.Handle(ctx, text); err != nil {
					enqueue(out, Outbound{Type: OutError, Error: err.Error()})
				}
			}(msg.Content)
		case InPing:
			enqueue(out, Outbound{Type: OutPong})
		case InReconnect:
			wg.Add(1)
			go func() {
				defer wg.Done()
				session.Reconnect(ctx)
			}()
		case InAck:
			if err := session.MarkRead(ctx, msg.ID); err != nil {
				enqueue(out, Outbound{Type: OutError, ID: msg.ID, Error: err.Error()})
			}
		case InReset:
			if err := session.Reset(ctx); err != nil {
				h.logger.Warn("Failed to reset history", "error", err, "user_id", userID)
				enqueue(out, Outbound{Type: OutError, Error: "reset failed"})
			}
		default:
			enqueue(out, Outbound{Type: OutError, Error: "unknown frame type: " + msg.Type})
			continue
		}

		if h.seen != nil {
			// Update last seen asynchronously with timeout.
			go func() {
				updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := h.seen.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
					h.logger.Warn("Failed to update last seen", "error", err)
				}
			}()
		}
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, out <-chan Outbound, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-out:
			if err := h.writeJSON(ctx, ws, o); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "user_id", userID)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

func enqueue(out chan<- Outbound, o Outbound) {
	select {
	case out <- o:
	default:
	}
}
