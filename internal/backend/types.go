// Package backend maintains the connection to the remote chat backend: a
// WebSocket with linear-backoff reconnects, health probing, and a REST
// fallback for one-shot chat.
package backend

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON frame exchanged with the chat backend. Its fields
// beyond Type are backend-defined and passed through opaquely.
type Envelope struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame types understood by the chat backend.
const (
	FrameMessage  = "message"
	FrameResponse = "response"
	FrameError    = "error"
	FramePing     = "ping"
	FramePong     = "pong"
)

// HealthResult is the normalised outcome of a health probe. Any failure is
// reported as offline with no latency.
type HealthResult struct {
	IsOnline  bool   `json:"isOnline"`
	LatencyMs *int64 `json:"latencyMs"`
}

// ChatRequest is a one-shot chat call.
type ChatRequest struct {
	Message   string `json:"message"`
	Agent     string `json:"agent,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the backend's reply to a one-shot chat call.
type ChatResponse struct {
	Response string `json:"response"`
	Agent    string `json:"agent,omitempty"`
}

// AgentStatus describes one backend agent as listed by the status endpoint.
type AgentStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Config controls connection and retry behaviour.
type Config struct {
	WSURL             string
	BaseURL           string
	ReconnectInterval time.Duration
	MaxRetries        int
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	SendRetries       int
	SendRetryDelay    time.Duration
}

// DefaultConfig returns default connection configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval: 3 * time.Second,
		MaxRetries:        5,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HealthTimeout:     10 * time.Second,
		HealthInterval:    30 * time.Second,
		SendRetries:       3,
		SendRetryDelay:    500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = d.HealthTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.SendRetries <= 0 {
		c.SendRetries = d.SendRetries
	}
	if c.SendRetryDelay <= 0 {
		c.SendRetryDelay = d.SendRetryDelay
	}
	return c
}
