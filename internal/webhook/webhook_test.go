package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/marketing-hub/internal/events"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

const successBody = `{
	"type": "DEPLOY",
	"status": "SUCCESS",
	"project": {"id": "p1", "name": "marketing-hub"},
	"environment": {"id": "e1", "name": "production"},
	"service": {"id": "s1", "name": "web"},
	"timestamp": "2024-01-01T00:00:00Z"
}`

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/deployments", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlerSuccessEmitsOneEvent(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{}
	w := post(t, NewHandler(bus, "", nil), successBody)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || !resp.Processed {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(bus.events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(bus.events))
	}
	ev := bus.events[0]
	if ev.Kind != events.KindDeploymentSucceeded {
		t.Fatalf("expected success event, got %s", ev.Kind)
	}
	if ev.Deployment.Project != "marketing-hub" || ev.Deployment.Environment != "production" {
		t.Fatalf("unexpected deployment %+v", ev.Deployment)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ, status string
		want        events.Kind
		ok          bool
	}{
		{"DEPLOY", "SUCCESS", events.KindDeploymentSucceeded, true},
		{"DEPLOY", "FAILED", events.KindDeploymentFailed, true},
		{"DEPLOY", "CRASHED", events.KindDeploymentFailed, true},
		{"DEPLOY", "BUILDING", events.KindDeploymentStarted, true},
		{"DEPLOY", "DEPLOYING", events.KindDeploymentStarted, true},
		{"deploy", "initializing", events.KindDeploymentStarted, true},
		{"DEPLOY", "REMOVED", "", false},
		{"VOLUME", "SUCCESS", "", false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.typ, tt.status)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Classify(%q, %q) = %q, %v; want %q, %v", tt.typ, tt.status, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHandlerUnrecognisedIsNotProcessed(t *testing.T) {
	t.Parallel()

	bus := &recordingBus{}
	body := strings.Replace(successBody, `"SUCCESS"`, `"REMOVED"`, 1)
	w := post(t, NewHandler(bus, "", nil), body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp Response
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || resp.Processed {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(bus.events) != 0 {
		t.Fatalf("expected no events, got %d", len(bus.events))
	}
}

func TestHandlerRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "malformed json", method: http.MethodPost, body: `{"type":`, want: http.StatusBadRequest},
		{name: "missing fields", method: http.MethodPost, body: `{"type":"DEPLOY","status":"SUCCESS"}`, want: http.StatusBadRequest},
		{name: "trailing data", method: http.MethodPost, body: successBody + `{}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &recordingBus{}
			req := httptest.NewRequest(tt.method, "/api/webhooks/deployments", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			NewHandler(bus, "", nil).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if len(bus.events) != 0 {
				t.Fatal("expected no events on rejection")
			}
		})
	}
}

type panicBus struct{}

func (panicBus) Publish(events.Event) { panic("bus down") }

func TestHandlerInternalErrorReturns500(t *testing.T) {
	t.Parallel()

	w := post(t, NewHandler(panicBus{}, "", nil), successBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandlerSecret(t *testing.T) {
	t.Parallel()

	h := NewHandler(&recordingBus{}, "s3cret", nil)
	if w := post(t, h, successBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(successBody))
	req.Header.Set(SecretHeader, "s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with secret, got %d", w.Code)
	}
}
