package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthChecker probes the chat backend. Implementations never return an
// error: any failure is reported as offline.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HTTPHealthChecker issues GET {base}/health with a fixed timeout.
type HTTPHealthChecker struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPHealthChecker creates a checker for baseURL. A nil client uses
// http.DefaultClient; the timeout is applied per request.
func NewHTTPHealthChecker(baseURL string, timeout time.Duration, client *http.Client) *HTTPHealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPHealthChecker{
		url:     strings.TrimRight(baseURL, "/") + "/health",
		timeout: timeout,
		client:  client,
	}
}

// Check implements HealthChecker.
func (h *HTTPHealthChecker) Check(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	if err := h.get(ctx); err != nil {
		return HealthResult{IsOnline: false}
	}
	latency := time.Since(start).Milliseconds()
	return HealthResult{IsOnline: true, LatencyMs: &latency}
}

func (h *HTTPHealthChecker) get(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
