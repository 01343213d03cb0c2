package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/storage/storetest"
	"github.com/platinummonkey/turnstile/pkg/users"
)

type capturingMailer struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (m *capturingMailer) SendConfirmation(ctx context.Context, u *users.User, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[u.Email] = secret
	return nil
}

func (m *capturingMailer) secret(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[email]
}

type testServer struct {
	server   *Server
	registry *session.Registry
	accounts *users.Service
	rbac     *rbac.Store
	mailer   *capturingMailer
	audit    *audit.DBLogger
}

func newTestServer(t *testing.T, limiter middleware.Limiter) *testServer {
	t.Helper()
	db := storetest.OpenSQLite(t)
	c := cache.NewMemoryCache(1000, 0)
	logger, _ := test.NewNullLogger()
	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	roleStore := rbac.NewStore(db, c, cache.Nop{})
	require.NoError(t, rbac.Seed(context.Background(), roleStore, logger))

	userStore := users.NewStore(db, c, cache.Nop{})
	mailer := &capturingMailer{secrets: map[string]string{}}
	accounts := users.NewService(userStore, roleStore, mailer, logger)
	accounts.BcryptCost = bcrypt.MinCost

	codec, err := session.NewCodec("api-test-secret")
	require.NoError(t, err)
	registry := session.NewRegistry(
		session.NewStore(db, c, cache.Nop{}),
		userStore,
		codec,
		&session.InfoBuilder{Logger: logger},
		session.Options{CookieName: "turnstile_sid", SaveInterval: time.Hour},
		logger,
		metrics,
	)
	t.Cleanup(func() { _ = registry.Flush(context.Background()) })

	auditLog, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	server := NewServer(Deps{
		Accounts:       accounts,
		Sessions:       registry,
		Checker:        rbac.NewChecker(roleStore, logger, metrics),
		Audit:          auditLog,
		Metrics:        metrics,
		Registry:       promRegistry,
		LoginLimiter:   limiter,
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	})

	return &testServer{server: server, registry: registry, accounts: accounts, rbac: roleStore, mailer: mailer, audit: auditLog}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "turnstile_sid" {
			return c
		}
	}
	t.Fatal("response carries no session cookie")
	return nil
}

func TestAccountFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/account/create", map[string]string{
		"email": "Flow@Example.com", "name": "Flow", "password": "secret-pw",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// unconfirmed accounts cannot sign in
	rec = ts.do(t, http.MethodPost, "/login", map[string]string{
		"email": "flow@example.com", "password": "secret-pw",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	secret := ts.mailer.secret("flow@example.com")
	require.NotEmpty(t, secret)

	rec = ts.do(t, http.MethodPost, "/account/confirm", map[string]string{"secret": secret}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sessionCookie(t, rec)

	rec = ts.do(t, http.MethodPost, "/login", map[string]string{
		"email": "flow@example.com", "password": "secret-pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login struct {
		Success bool `json:"success"`
		Cookie  struct {
			Name     string `json:"name"`
			Value    string `json:"value"`
			Lifetime *int64 `json:"lifetime"`
		} `json:"cookie"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.True(t, login.Success)
	assert.Equal(t, "turnstile_sid", login.Cookie.Name)
	cookie := sessionCookie(t, rec)
	assert.Equal(t, cookie.Value, login.Cookie.Value)

	rec = ts.do(t, http.MethodGet, "/account/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "flow@example.com", profile.Email)
	assert.Equal(t, "Flow", profile.Name)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = ts.do(t, http.MethodPost, "/account/profile", map[string]string{"name": "Renamed"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Renamed", profile.Name)

	rec = ts.do(t, http.MethodPost, "/account/profile", map[string]string{"current_password": "wrong-one", "password": "another1"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a wrong current password is rejected")

	rec = ts.do(t, http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Equal(t, -1, cleared.MaxAge)

	require.NoError(t, ts.registry.Flush(context.Background()))

	rec = ts.do(t, http.MethodGet, "/account/profile", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the session no longer carries a user")

	events, err := ts.audit.Recent(context.Background(), audit.Filter{})
	require.NoError(t, err)
	var types []audit.EventType
	for i := len(events) - 1; i >= 0; i-- {
		types = append(types, events[i].EventType)
	}
	assert.Equal(t, []audit.EventType{
		audit.EventTypeAccountCreate,
		audit.EventTypeAuthLoginFailed,
		audit.EventTypeAccountConfirm,
		audit.EventTypeAuthLogin,
		audit.EventTypeProfileUpdate,
		audit.EventTypeAuthLogout,
	}, types)
	assert.Equal(t, "flow@example.com", events[0].Email)
}

func TestProfile_RequiresAuthentication(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/account/profile", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/account/profile", nil, &http.Cookie{Name: "turnstile_sid", Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfile_ForbiddenWithoutRole(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	// an account confirmed before the default role existed has no grants
	hash, err := ts.accounts.HashPassword("secret-pw")
	require.NoError(t, err)
	now := time.Now()
	u := &users.User{Email: "bare@example.com", Password: &hash, CreatedAt: now, ConfirmedAt: &now}
	require.NoError(t, ts.accounts.Store().Save(ctx, u))

	rec := ts.do(t, http.MethodPost, "/login", map[string]string{
		"email": "bare@example.com", "password": "secret-pw",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/account/profile", nil, sessionCookie(t, rec))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())
}

func TestCreate_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/account/create", map[string]string{
		"email": "short@example.com", "password": "abc",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/account/create", map[string]string{
		"email": "dup@example.com", "password": "secret-pw",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/account/create", map[string]string{
		"email": "dup@example.com", "password": "secret-pw",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already registered")

	rec = ts.do(t, http.MethodPost, "/account/confirm", map[string]string{"secret": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/login", map[string]string{"email": "dup@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout_Anonymous(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/logout", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)
}

func TestLogin_RateLimited(t *testing.T) {
	limiter := middleware.NewMemoryLimiter(middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Hour,
	})
	ts := newTestServer(t, limiter)

	body := map[string]string{"email": "nobody@example.com", "password": "secret-pw"}
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/login", body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/login", body, nil).Code)

	rec := ts.do(t, http.MethodPost, "/login", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// the profile endpoint is not throttled
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/account/profile", nil, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/account/profile", nil, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acl_decisions_total")
}
