package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/marketing-hub/internal/store"
)

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type seen struct {
	userID, username, sessionID string
}

func serve(t *testing.T, h func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, seen) {
	t.Helper()
	var got seen
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = seen{
			userID:    UserIDFromContext(r.Context()),
			username:  UsernameFromContext(r.Context()),
			sessionID: SessionIDFromContext(r.Context()),
		}
	})
	rec := httptest.NewRecorder()
	h(inner).ServeHTTP(rec, req)
	return rec, got
}

func TestMiddlewareMintsAndReusesGuest(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	mw := Middleware(repo, true)

	rec, first := serve(t, mw, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if !isGuestID(first.userID) {
		t.Fatalf("user id = %q, want guest id", first.userID)
	}
	if !strings.HasPrefix(first.username, "guest-") {
		t.Errorf("username = %q", first.username)
	}
	if first.sessionID != DefaultSessionIDValue {
		t.Errorf("session id = %q, want default", first.sessionID)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != GuestCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(SessionHeaderName, "tab-7")
	_, second := serve(t, mw, req)
	if second.userID != first.userID {
		t.Errorf("user id changed: %q -> %q", first.userID, second.userID)
	}
	if second.sessionID != "tab-7" {
		t.Errorf("session id = %q, want tab-7", second.sessionID)
	}

	user, err := repo.GetUser(context.Background(), first.userID)
	if err != nil || user == nil {
		t.Fatalf("GetUser = %v, %v", user, err)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: GuestCookieName, Value: "guest_../../etc"})
	_, got := serve(t, Middleware(newTestRepo(t), true), req)
	if got.userID == "guest_../../etc" || !isGuestID(got.userID) {
		t.Errorf("user id = %q", got.userID)
	}
}

func TestMiddlewareUsesCompanyName(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	mw := Middleware(repo, false)
	rec, first := serve(t, mw, httptest.NewRequest(http.MethodGet, "/", nil))
	if !rec.Result().Cookies()[0].Secure {
		t.Error("production cookie must be Secure")
	}

	user, err := repo.GetUser(context.Background(), first.userID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	user.CompanyName = "متجر الورد"
	user.UpdatedAt = time.Now()
	if err := repo.UpsertUser(context.Background(), user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	_, second := serve(t, mw, req)
	if second.username != "متجر الورد" {
		t.Errorf("username = %q", second.username)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", DefaultSessionIDValue},
		{"  tab-1 ", "tab-1"},
		{"a/b", DefaultSessionIDValue},
		{strings.Repeat("x", 129), DefaultSessionIDValue},
		{"tab:2.1_x", "tab:2.1_x"},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), "user-1", "")
	if UserIDFromContext(ctx) != "user-1" || SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Errorf("identity = %q/%q", UserIDFromContext(ctx), SessionIDFromContext(ctx))
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Error("empty context carries a user")
	}
}
