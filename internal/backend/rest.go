package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUpstream reports a non-retryable rejection from the chat backend.
var ErrUpstream = errors.New("chat backend rejected request")

// RESTClient performs one-shot calls against the chat backend's HTTP API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewRESTClient creates a client using cfg.BaseURL, cfg.SendRetries and
// cfg.SendRetryDelay. A nil httpClient gets a 30s timeout.
func NewRESTClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *RESTClient {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		retries:    cfg.SendRetries,
		baseDelay:  cfg.SendRetryDelay,
		logger:     logger,
	}
}

// retryableError marks failures worth another attempt: transport errors and
// 5xx responses.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Chat posts req to /api/chat. Transient failures are retried up to
// SendRetries times with exponential backoff; 4xx responses fail immediately with ErrUpstream.
func (c *RESTClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	// One initial attempt plus up to c.retries retries.
	attempts := max(c.retries, 0) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		var resp ChatResponse
		err := c.do(ctx, http.MethodPost, "/api/chat", body, &resp)
		if err == nil {
			return &resp, nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) || i == attempts-1 {
			break
		}
		delay := c.baseDelay * time.Duration(1<<i)
		c.logger.Warn("Chat request failed, retrying", "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("chat request failed: %w", lastErr)
}

// AgentStatus lists the backend's agents.
func (c *RESTClient) AgentStatus(ctx context.Context) ([]AgentStatus, error) {
	var out struct {
		Agents []AgentStatus `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/status", nil, &out); err != nil {
		return nil, fmt.Errorf("agent status: %w", err)
	}
	return out.Agents, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return &retryableError{err: err}
	}
	switch {
	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
