// Package middleware provides the HTTP middleware chain: session
// authentication, admin gating, and Redis-backed rate limiting.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/httputil"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/roles"
)

// SessionCookie is the cookie carrying the session token for browser
// clients. API clients may use a bearer Authorization header instead.
const SessionCookie = "unuxt_session"

type contextKey string

const sessionContextKey contextKey = "session"

// SessionResolver validates a session token and returns the caller identity.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string, updateAge, ttl time.Duration) (*auth.SessionInfo, error)
}

// Authenticator resolves the session on every request and stores the caller
// identity in the request context.
type Authenticator struct {
	sessions  SessionResolver
	updateAge time.Duration
	ttl       time.Duration
	logger    *observability.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(sessions SessionResolver, updateAge, ttl time.Duration, logger *observability.Logger) *Authenticator {
	return &Authenticator{
		sessions:  sessions,
		updateAge: updateAge,
		ttl:       ttl,
		logger:    logger,
	}
}

func sessionToken(r *http.Request) string {
	if token := httputil.BearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Resolve attaches the session to the context when a valid token is
// presented. Requests without a token pass through anonymous; RequireAuth
// decides per-route whether that is acceptable.
func (a *Authenticator) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		info, err := a.sessions.ResolveSession(r.Context(), token, a.updateAge, a.ttl)
		if err != nil {
			// Invalid or expired token reads as anonymous, not as an error.
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, info)
		ctx = observability.WithLogger(ctx, a.logger.WithField("user_id", info.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the authenticated caller, or nil.
func SessionFromContext(ctx context.Context) *auth.SessionInfo {
	info, _ := ctx.Value(sessionContextKey).(*auth.SessionInfo)
	return info
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFromContext(r.Context()) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers without the platform admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := SessionFromContext(r.Context())
		if info == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if info.Role != roles.GlobalRoleAdmin {
			httputil.WriteErrorMessage(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
