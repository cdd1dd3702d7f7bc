// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	HistoryTTL      time.Duration
	MemoryCapacity  int
	MemoryDir       string
	SessionIdle     time.Duration
	CleanupInterval time.Duration
	WebhookSecret   string
	ChatBackend     ChatBackendConfig
	Payment         PaymentConfig
	Dashboard       DashboardConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	ConversationLog ConversationLogConfig
}

// ChatBackendConfig locates the remote chat backend and tunes reconnects.
type ChatBackendConfig struct {
	URL               string
	WSURL             string
	GRPCAddr          string
	Token             string
	ReconnectInterval time.Duration
	MaxRetries        int
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	SendRetries       int
}

// PaymentConfig configures the payment processor client.
type PaymentConfig struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
}

// DashboardConfig configures the metrics cache. An empty RedisURL keeps the
// cache in process.
type DashboardConfig struct {
	RedisURL string
	CacheTTL time.Duration
}

// RateLimitConfig bounds chat sends per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the notification stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	backendURL := getEnv("CHAT_BACKEND_URL", "http://localhost:8000")
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/hub.db"),
		HistoryTTL:      getEnvDuration("CHAT_HISTORY_TTL", 30*24*time.Hour),
		MemoryCapacity:  getEnvInt("MEMORY_CAPACITY", 100),
		MemoryDir:       getEnv("MEMORY_DIR", ""),
		SessionIdle:     getEnvDuration("CHAT_SESSION_IDLE", 30*time.Minute),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		ChatBackend: ChatBackendConfig{
			URL:               backendURL,
			WSURL:             getEnv("CHAT_BACKEND_WS_URL", deriveWSURL(backendURL)),
			GRPCAddr:          getEnv("CHAT_BACKEND_GRPC_ADDR", ""),
			Token:             getEnv("CHAT_BACKEND_TOKEN", ""),
			ReconnectInterval: getEnvDuration("CHAT_RECONNECT_INTERVAL", 3*time.Second),
			MaxRetries:        getEnvInt("CHAT_MAX_RETRIES", 5),
			HealthTimeout:     getEnvDuration("CHAT_HEALTH_TIMEOUT", 10*time.Second),
			HealthInterval:    getEnvDuration("CHAT_HEALTH_INTERVAL", 30*time.Second),
			SendRetries:       getEnvInt("CHAT_SEND_RETRIES", 3),
		},
		Payment: PaymentConfig{
			GatewayURL: getEnv("PAYMENT_GATEWAY_URL", "https://api.moyasar.com"),
			APIKey:     getEnv("PAYMENT_API_KEY", ""),
			Timeout:    getEnvDuration("PAYMENT_TIMEOUT", 15*time.Second),
		},
		Dashboard: DashboardConfig{
			RedisURL: getEnv("REDIS_URL", ""),
			CacheTTL: getEnvDuration("DASHBOARD_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ChatBackend.URL == "" {
		return fmt.Errorf("CHAT_BACKEND_URL cannot be empty")
	}
	if c.ChatBackend.MaxRetries <= 0 {
		return fmt.Errorf("CHAT_MAX_RETRIES must be > 0")
	}
	if c.ChatBackend.ReconnectInterval <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_INTERVAL must be > 0")
	}
	if c.ChatBackend.HealthInterval <= 0 || c.ChatBackend.HealthTimeout <= 0 {
		return fmt.Errorf("CHAT_HEALTH_INTERVAL and CHAT_HEALTH_TIMEOUT must be > 0")
	}
	if c.ChatBackend.SendRetries <= 0 {
		return fmt.Errorf("CHAT_SEND_RETRIES must be > 0")
	}
	if c.MemoryCapacity <= 0 {
		return fmt.Errorf("MEMORY_CAPACITY must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// deriveWSURL maps http(s)://host to ws(s)://host/ws.
func deriveWSURL(httpURL string) string {
	u := strings.TrimRight(httpURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://") + "/ws"
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://") + "/ws"
	}
	return ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
