// Package identity gives every browser a stable guest identity and every tab
// its own chat session ID.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/marketing-hub/internal/domain"
	"github.com/ashureev/marketing-hub/internal/store"
	"github.com/google/uuid"
)

const (
	GuestCookieName       = "hub_guest_id"
	SessionHeaderName     = "X-Hub-Session-ID"
	DefaultSessionIDValue = "default"
	guestPrefix           = "guest_"
	guestCookieMaxAge     = 90 * 24 * time.Hour
	lastSeenResolution    = time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
	sessionIDKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the display name from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns ctx carrying the given user and session. Handlers
// mounted outside Middleware and tests use it to attach an identity.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, guestName(userID))
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func isGuestID(id string) bool {
	rest, ok := strings.CutPrefix(id, guestPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// guestName is the display name shown until the user sets a company name.
func guestName(userID string) string {
	rest := strings.TrimPrefix(userID, guestPrefix)
	if len(rest) >= 8 {
		return "guest-" + rest[:8]
	}
	return "guest"
}

func setGuestCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(guestCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(guestCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// guestID returns the cookie's guest ID, minting a new one when the cookie is
// missing or malformed. The cookie is refreshed either way.
func guestID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(GuestCookieName); err == nil && isGuestID(c.Value) {
		id = c.Value
	} else {
		u, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generate guest id: %w", err)
		}
		id = guestPrefix + u.String()
	}
	setGuestCookie(w, id, !isDev)
	return id, nil
}

// ensureUser creates the guest's row on first sight and otherwise bumps
// last_seen_at at most once per lastSeenResolution.
func ensureUser(ctx context.Context, repo store.Repository, userID string) (*domain.User, error) {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if user != nil {
		if now.Sub(user.LastSeenAt) > lastSeenResolution {
			if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
				return nil, err
			}
			user.LastSeenAt = now
		}
		return user, nil
	}

	user = &domain.User{
		UserID:     userID,
		Username:   guestName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the guest identity and per-tab session ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := guestID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish guest identity"}`, http.StatusInternalServerError)
				return
			}

			user, err := ensureUser(r.Context(), repo, userID)
			if err != nil {
				http.Error(w, `{"error":"failed to initialize guest user"}`, http.StatusInternalServerError)
				return
			}

			username := user.Username
			if user.CompanyName != "" {
				username = user.CompanyName
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, usernameKey, username)
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
