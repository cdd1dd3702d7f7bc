// Package webhook receives deployment notifications from the hosting
// platform and republishes the recognised ones on the event bus.
package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/marketing-hub/internal/api"
	"github.com/ashureev/marketing-hub/internal/events"
	"github.com/ashureev/marketing-hub/internal/metrics"
)

const maxBodySize = 64 << 10

// SecretHeader carries the shared webhook secret when one is configured.
const SecretHeader = "X-Webhook-Secret"

// ErrInvalidPayload reports a body that does not have the deployment shape.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Ref is the {id, name} object the platform sends for projects,
// environments and services.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label returns the name, falling back to the id.
func (r *Ref) Label() string {
	if r == nil {
		return ""
	}
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// DeploymentRef describes the deployment itself; it is optional.
type DeploymentRef struct {
	ID     string `json:"id"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// Payload is the fixed-shape deployment webhook body.
type Payload struct {
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Project     *Ref           `json:"project"`
	Environment *Ref           `json:"environment"`
	Service     *Ref           `json:"service"`
	Deployment  *DeploymentRef `json:"deployment,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Response is written for every accepted request.
type Response struct {
	Success   bool `json:"success"`
	Processed bool `json:"processed"`
}

// Validate checks the required fields.
func (p *Payload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(p.Status) == "" {
		missing = append(missing, "status")
	}
	if p.Project == nil {
		missing = append(missing, "project")
	}
	if p.Environment == nil {
		missing = append(missing, "environment")
	}
	if p.Service == nil {
		missing = append(missing, "service")
	}
	if p.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	return nil
}

// Classify maps a (type, status) pair onto an event kind. Only DEPLOY events
// are recognised.
func Classify(typ, status string) (events.Kind, bool) {
	if !strings.EqualFold(typ, "DEPLOY") {
		return "", false
	}
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return events.KindDeploymentSucceeded, true
	case "FAILED", "CRASHED":
		return events.KindDeploymentFailed, true
	case "BUILDING", "DEPLOYING", "INITIALIZING":
		return events.KindDeploymentStarted, true
	}
	return "", false
}

// Handler serves the deployment webhook endpoint.
type Handler struct {
	bus    events.Publisher
	secret string
	logger *slog.Logger
}

// NewHandler creates a handler publishing on bus. An empty secret disables
// the shared-secret check.
func NewHandler(bus events.Publisher, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: bus, secret: secret, logger: logger}
}

// ServeHTTP handles POST requests; other methods get 405.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Webhook handler panic", "panic", rec)
			api.Error(w, http.StatusInternalServerError, "internal error")
		}
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		api.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(h.secret)) != 1 {
		api.Error(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var p Payload
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&p); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		api.Error(w, http.StatusBadRequest, "unexpected data after JSON body")
		return
	}
	if err := p.Validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	processed := h.Process(&p)
	api.JSON(w, http.StatusOK, Response{Success: true, Processed: processed})
}

// Process publishes the event for p and reports whether p was recognised.
func (h *Handler) Process(p *Payload) bool {
	kind, ok := Classify(p.Type, p.Status)
	if !ok {
		h.logger.Info("Ignoring unrecognised webhook", "type", p.Type, "status", p.Status)
		metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		return false
	}

	d := events.Deployment{
		Project:     p.Project.Label(),
		Environment: p.Environment.Label(),
		Service:     p.Service.Label(),
		Status:      strings.ToUpper(p.Status),
	}
	if p.Deployment != nil {
		d.ID = p.Deployment.ID
		d.URL = p.Deployment.URL
	}
	h.logger.Info("Deployment webhook received",
		"kind", kind, "project", d.Project, "environment", d.Environment, "service", d.Service)
	h.bus.Publish(events.DeploymentEvent(kind, d, p.Timestamp))
	metrics.WebhookEvents.WithLabelValues(string(kind)).Inc()
	return true
}
