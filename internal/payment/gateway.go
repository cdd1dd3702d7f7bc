package payment

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

	"github.com/google/uuid"
)

// ErrDeclined reports a charge the processor refused.
var ErrDeclined = errors.New("payment declined")

// Source identifies the payment instrument. Card data is tokenised by the
// processor's client library; only the token passes through this service.
type Source struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ChargeRequest is sent to the processor. Amount is in minor units.
type ChargeRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Source      Source            `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChargeResult is the processor's verdict.
type ChargeResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Paid reports whether the processor captured the charge.
func (r *ChargeResult) Paid() bool {
	switch strings.ToLower(r.Status) {
	case "paid", "captured", "succeeded":
		return true
	}
	return false
}

// Gateway submits charges to a payment processor.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest, idempotencyKey string) (*ChargeResult, error)
}

// HTTPGateway talks to a processor exposing POST {base}/v1/payments with
// basic auth using the secret API key as the username.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPGateway creates a gateway client. A zero timeout defaults to 15s.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/payments",
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Charge implements Gateway. An empty idempotency key gets a fresh UUID.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest, idempotencyKey string) (*ChargeResult, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	httpReq.SetBasicAuth(g.apiKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call payment gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	var result ChargeResult
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}

	switch {
	case resp.StatusCode >= 500:
		g.logger.Warn("Payment gateway error", "status", resp.StatusCode)
		return nil, fmt.Errorf("payment gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		if result.Message == "" {
			result.Message = strings.TrimSpace(string(body))
		}
		return &result, fmt.Errorf("%w: %s", ErrDeclined, result.Message)
	}
	if !result.Paid() {
		return &result, fmt.Errorf("%w: status %s", ErrDeclined, result.Status)
	}

	g.logger.Info("Payment captured", "gateway_id", result.ID, "status", result.Status)
	return &result, nil
}

var _ Gateway = (*HTTPGateway)(nil)
