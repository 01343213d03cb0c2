package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/users"
)

// ProfileResource is the resource guarding the profile endpoints
const ProfileResource = "account.profile"

// AccountHandlers handles sign-in and account HTTP requests
type AccountHandlers struct {
	accounts Accounts
	sessions Sessions
	checker  *rbac.Checker
	audit    audit.Logger
	limiter  middleware.Limiter
	ipHeader string
	logger   logrus.FieldLogger
}

// NewAccountHandlers creates a new account handlers instance
func NewAccountHandlers(deps Deps) *AccountHandlers {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	return &AccountHandlers{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		checker:  deps.Checker,
		audit:    deps.Audit,
		limiter:  deps.LoginLimiter,
		ipHeader: deps.IPHeader,
		logger:   deps.Logger,
	}
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/login", h.throttle(http.HandlerFunc(h.login))).Methods("POST")
	router.HandleFunc("/logout", h.logout).Methods("POST")

	router.Handle("/account/create", h.throttle(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/account/confirm", h.throttle(http.HandlerFunc(h.confirm))).Methods("POST")

	router.Handle("/account/profile",
		rbac.RequirePermission(h.checker, ProfileResource, "list")(http.HandlerFunc(h.getProfile))).Methods("GET")
	router.Handle("/account/profile",
		rbac.RequirePermission(h.checker, ProfileResource, "post")(http.HandlerFunc(h.postProfile))).Methods("POST")
}

func (h *AccountHandlers) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return middleware.RateLimit(h.limiter, middleware.ClientIP(h.ipHeader), h.logger)(next)
}

// Profile is the public view of a user
type Profile struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// NewProfile builds the public view of u
func NewProfile(u *users.User) Profile {
	return Profile{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name(),
		CreatedAt:   u.CreatedAt,
		ConfirmedAt: u.ConfirmedAt,
	}
}

type cookieResponse struct {
	Success bool               `json:"success"`
	Cookie  session.CookieInfo `json:"cookie"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// login handles POST /login
func (h *AccountHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.record(r, audit.NewEvent(r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure, h.ipHeader).
				WithUser(0, users.NormalizeEmail(req.Email)).
				WithMessage("invalid credentials"))
		}
		h.fail(r.Context(), w, err)
		return
	}
	h.startSession(w, r, user, audit.EventTypeAuthLogin)
}

// logout handles POST /logout. The session is detached from its user and
// the cookie is cleared; the row itself expires through the sweep.
func (h *AccountHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if s := middleware.SessionFromRequest(r); s != nil {
		if user := middleware.UserFromRequest(r); user != nil {
			h.record(r, audit.NewEvent(r, audit.EventTypeAuthLogout, audit.EventStatusSuccess, h.ipHeader).
				WithUser(user.ID, user.Email))
		}
		s.UserID = nil
		s.Payload = map[string]interface{}{}
		if now := session.Timestamp(time.Now()); now.After(s.UpdatedAt) {
			s.UpdatedAt = now
		}
		if err := h.sessions.Update(s); err != nil {
			h.fail(r.Context(), w, err)
			return
		}
	}

	http.SetCookie(w, h.sessions.ClearCookie())
	httputil.WriteSuccess(w, successResponse{Success: true})
}

// create handles POST /account/create
func (h *AccountHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req users.SignUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.SignUp(r.Context(), req)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.record(r, audit.NewEvent(r, audit.EventTypeAccountCreate, audit.EventStatusSuccess, h.ipHeader).
		WithUser(user.ID, user.Email))
	httputil.WriteCreated(w, successResponse{Success: true})
}

// confirm handles POST /account/confirm
func (h *AccountHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Secret, "secret") {
		return
	}

	user, err := h.accounts.Confirm(r.Context(), req.Secret)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.startSession(w, r, user, audit.EventTypeAccountConfirm)
}

func (h *AccountHandlers) startSession(w http.ResponseWriter, r *http.Request, user *users.User, event audit.EventType) {
	s, err := h.sessions.Start(r.Context(), user, session.RequestContextFrom(r))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	cookie, err := h.sessions.Cookie(s)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	info, err := h.sessions.CookieInfo(s)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	e := audit.NewEvent(r, event, audit.EventStatusSuccess, h.ipHeader).WithUser(user.ID, user.Email)
	e.Metadata = map[string]interface{}{"session_id": s.ID}
	h.record(r, e)

	http.SetCookie(w, cookie)
	httputil.WriteSuccess(w, cookieResponse{Success: true, Cookie: info})
}

// getProfile handles GET /account/profile
func (h *AccountHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, NewProfile(middleware.UserFromRequest(r)))
}

// postProfile handles POST /account/profile
func (h *AccountHandlers) postProfile(w http.ResponseWriter, r *http.Request) {
	var update users.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), middleware.UserFromRequest(r).ID, update)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	e := audit.NewEvent(r, audit.EventTypeProfileUpdate, audit.EventStatusSuccess, h.ipHeader).WithUser(user.ID, user.Email)
	e.Metadata = map[string]interface{}{
		"name_changed":     update.Name != nil,
		"password_changed": update.Password != nil,
	}
	h.record(r, e)
	httputil.WriteSuccess(w, NewProfile(user))
}

// record writes an audit event; failures are logged and otherwise ignored
func (h *AccountHandlers) record(r *http.Request, e *audit.Event) {
	if err := h.audit.Log(r.Context(), e); err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).
			WithField("event_type", e.EventType).Warn("Failed to record audit event")
	}
}

func (h *AccountHandlers) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if status := auth.HTTPStatus(err); status >= http.StatusInternalServerError {
		observability.FromContext(ctx, h.logger).WithError(err).Error("Request failed")
	}
	httputil.WriteDomainError(w, err)
}
