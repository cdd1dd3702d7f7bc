package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/marketing-hub/internal/backend"
	"github.com/ashureev/marketing-hub/internal/config"
	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/ashureev/marketing-hub/internal/store"
	"github.com/go-chi/chi/v5"
)

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	now := time.Now()
	if err := repo.UpsertUser(context.Background(), &domain.User{
		UserID: "user-1", Username: "guest-1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	return repo
}

type staticChecker struct{ res backend.HealthResult }

func (s staticChecker) Check(context.Context) backend.HealthResult { return s.res }

func TestHealth(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ms := int64(12)
	tests := []struct {
		name    string
		checker backend.HealthChecker
		status  string
		backend string
	}{
		{"no backend probe", nil, "healthy", ""},
		{"backend online", staticChecker{backend.HealthResult{IsOnline: true, LatencyMs: &ms}}, "healthy", "ok"},
		{"backend offline", staticChecker{}, "degraded", "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(repo, tt.checker, time.Second)
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if body.Status != tt.status || body.Checks["chat_backend"] != tt.backend {
				t.Errorf("body = %+v", body)
			}
			if body.Checks["database"] != "ok" {
				t.Errorf("database check = %q", body.Checks["database"])
			}
		})
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	_ = repo.Close()

	rec := httptest.NewRecorder()
	NewHealthHandler(repo, nil, time.Second).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListPersonas(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	ListPersonas(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	var body struct {
		Personas []domain.Persona `json:"personas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Personas) != 5 || body.Personas[0].ID != domain.PersonaStrategic {
		t.Errorf("personas = %+v", body.Personas)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Classify(rec, httptest.NewRequest(http.MethodPost, "/api/router/classify", strings.NewReader(`{"text":"refresh the campaign budget"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body classifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Persona != domain.PersonaExecutor {
		t.Errorf("persona = %s, want executor", body.Persona)
	}
	if body.Command == nil || body.Command.Type != domain.CommandDataRefresh {
		t.Errorf("command = %+v", body.Command)
	}
	if len(body.Scores) != 5 {
		t.Errorf("scores = %d, want 5", len(body.Scores))
	}

	rec = httptest.NewRecorder()
	Classify(rec, httptest.NewRequest(http.MethodPost, "/api/router/classify", strings.NewReader(`{"text":" "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank status = %d, want 400", rec.Code)
	}
}

func newProfileRouter(t *testing.T, repo store.Repository) http.Handler {
	t.Helper()
	h := NewProfileHandler(NewHandler(repo, "http://localhost:5173"), &config.Config{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), r.Header.Get("X-Test-User"), "tab")))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func TestProfileGetAndUpdate(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	r := newProfileRouter(t, repo)

	req := httptest.NewRequest(http.MethodPatch, "/api/me", strings.NewReader(`{"company_name":"  متجر الورد "}`))
	req.Header.Set("X-Test-User", "user-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Test-User", "user-1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var me map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if me["company_name"] != "متجر الورد" || me["has_subscription"] != false {
		t.Errorf("me = %+v", me)
	}
}

func TestProfileRejections(t *testing.T) {
	t.Parallel()

	r := newProfileRouter(t, newTestRepo(t))
	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"anonymous", "", `{"company_name":"x"}`, http.StatusUnauthorized},
		{"unknown user", "user-9", `{"company_name":"x"}`, http.StatusUnauthorized},
		{"missing field", "user-1", `{}`, http.StatusBadRequest},
		{"too long", "user-1", `{"company_name":"` + strings.Repeat("ب", maxCompanyNameRunes+1) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/api/me", strings.NewReader(tt.body))
			req.Header.Set("X-Test-User", tt.user)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	h := NewProfileHandler(NewHandler(nil, "http://localhost:5173"), &config.Config{
		Payment: config.PaymentConfig{APIKey: "sk_test"},
	})
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got["payments_enabled"] != true || got["shared_cache"] != false {
		t.Errorf("config = %+v", got)
	}
}

type fakeAgents struct {
	agents []backend.AgentStatus
	err    error
}

func (f fakeAgents) AgentStatus(context.Context) ([]backend.AgentStatus, error) {
	return f.agents, f.err
}

func TestAgentsStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lister fakeAgents
		want   int
		count  int
	}{
		{"listed", fakeAgents{agents: []backend.AgentStatus{{ID: "analyst", Status: "online"}}}, http.StatusOK, 1},
		{"none", fakeAgents{}, http.StatusOK, 0},
		{"backend down", fakeAgents{err: context.DeadlineExceeded}, http.StatusBadGateway, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewAgentsHandler(tt.lister, time.Second).RegisterRoutes(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/status", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var body struct {
				Agents []backend.AgentStatus `json:"agents"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if body.Agents == nil || len(body.Agents) != tt.count {
				t.Errorf("agents = %+v, want %d", body.Agents, tt.count)
			}
		})
	}
}
