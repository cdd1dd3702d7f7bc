package domain

import "time"

// ConnectionState is the lifecycle state of the chat backend connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ConnectionStatus is a snapshot of the connection for status indicators.
type ConnectionStatus struct {
	State       ConnectionState `json:"state"`
	LastChecked time.Time       `json:"last_checked"`
	LatencyMs   *int64          `json:"latency_ms"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
}
