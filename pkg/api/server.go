package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/users"
)

// Accounts is the account workflow the handlers drive
type Accounts interface {
	SignUp(ctx context.Context, req users.SignUpRequest) (*users.User, error)
	Confirm(ctx context.Context, secret string) (*users.User, error)
	Authenticate(ctx context.Context, email, password string) (*users.User, error)
	UpdateProfile(ctx context.Context, userID int64, update users.ProfileUpdate) (*users.User, error)
}

// Sessions starts, updates and serializes sessions
type Sessions interface {
	middleware.SessionLoader
	Start(ctx context.Context, user *users.User, rc session.RequestContext) (*session.Session, error)
	Update(s *session.Session) error
	Cookie(s *session.Session) (*http.Cookie, error)
	CookieInfo(s *session.Session) (session.CookieInfo, error)
	ClearCookie() *http.Cookie
}

// Deps are the collaborators of the server. Health, Registry, Audit and
// LoginLimiter are optional.
type Deps struct {
	Accounts Accounts
	Sessions Sessions
	Checker  *rbac.Checker
	Audit    audit.Logger

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	LoginLimiter middleware.Limiter
	IPHeader     string

	RequestTimeout time.Duration
	Logger         logrus.FieldLogger
}

// Server represents our API server
type Server struct {
	router *mux.Router
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(nil)
	}

	s := &Server{router: mux.NewRouter()}

	s.router.Use(middleware.RequestLogger(deps.Logger))
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	s.router.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.RequestTimeout, deps.Logger).Handler)

	NewAccountHandlers(deps).RegisterRoutes(s.router)

	if deps.Health != nil {
		s.router.HandleFunc("/health/live", deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", deps.Health.Readiness).Methods("GET")
	}
	if deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Registry)).Methods("GET")
	}

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}
