package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/users"
)

// SessionLoader resolves a credential to its session and owner
type SessionLoader interface {
	Load(ctx context.Context, encoded string, rc session.RequestContext) (*session.Session, *users.User, error)
	CookieName() string
}

// SessionMiddleware attaches the session of the request, if any, to its context
type SessionMiddleware struct {
	loader  SessionLoader
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewSessionMiddleware creates session middleware. A positive timeout
// bounds the session and user lookups of one request.
func NewSessionMiddleware(loader SessionLoader, timeout time.Duration, logger logrus.FieldLogger) *SessionMiddleware {
	return &SessionMiddleware{loader: loader, timeout: timeout, logger: logger}
}

// Handler wraps an HTTP handler with session loading
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := Credential(r, m.loader.CookieName())
		if credential == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}

		s, user, err := m.loader.Load(ctx, credential, session.RequestContextFrom(r))
		if err != nil {
			observability.FromContext(r.Context(), m.logger).WithError(err).Error("Failed to load session")
			httputil.WriteDomainError(w, err)
			return
		}
		if s == nil {
			next.ServeHTTP(w, r)
			return
		}

		reqCtx := contextkeys.WithSession(r.Context(), s)
		if user != nil {
			reqCtx = contextkeys.WithUser(reqCtx, user)
		}
		next.ServeHTTP(w, r.WithContext(reqCtx))
	})
}

// Credential returns the session credential of r: the named cookie, or a
// Bearer token when there is no cookie
func Credential(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// SessionFromRequest returns the session attached by SessionMiddleware
func SessionFromRequest(r *http.Request) *session.Session {
	s, _ := r.Context().Value(contextkeys.SessionKey).(*session.Session)
	return s
}

// UserFromRequest returns the session owner attached by SessionMiddleware
func UserFromRequest(r *http.Request) *users.User {
	u, _ := r.Context().Value(contextkeys.UserKey).(*users.User)
	return u
}
