// Package middleware provides HTTP middleware for sessions, request logging
// and rate limiting.
//
// # Middleware Components
//
// RequestLogger: request ids and a request-scoped logger
//
//	router.Use(middleware.RequestLogger(logger))
//	// honours X-Request-ID, otherwise generates a UUID
//
// SessionMiddleware: resolves the session credential
//
//	sm := middleware.NewSessionMiddleware(registry, cfg.Server.RequestTimeout, logger)
//	router.Use(sm.Handler)
//	// reads the session cookie or "Authorization: Bearer <credential>"
//
// Requests without a valid credential continue anonymously. Handlers read
// the result with SessionFromRequest and UserFromRequest.
//
// RateLimit: per-client throttling of sensitive endpoints
//
//	limiter := middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: 20, WindowDuration: time.Minute})
//	router.Handle("/login", middleware.RateLimit(limiter, middleware.ClientIP(""), logger)(login))
//
// NewRedisLimiter shares the counters between processes.
//
// # Related Packages
//
//   - pkg/session: credential resolution
//   - pkg/rbac: permission checks on top of UserFromRequest
package middleware
