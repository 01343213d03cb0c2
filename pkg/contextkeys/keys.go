// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/turnstile/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, _ := ctx.Value(contextkeys.SessionKey).(*session.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains the live session for the request
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: account handlers, logout
	// Type: *session.Session
	SessionKey Key = "session"

	// UserKey contains the user owning the session, if any
	// Set by: middleware.SessionMiddleware
	// Required by: ACL guard, profile handlers
	// Type: *users.User
	UserKey Key = "user"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestLogger
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains the request-scoped logger
	// Set by: middleware.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithSession adds the request session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
