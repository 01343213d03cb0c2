package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/turnstile/pkg/async"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/users"
)

// SessionStore is the durable side of the registry
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)
}

// UserFinder resolves session owners
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// Options configures a Registry
type Options struct {
	// CookieName is "<project>_sid" by default
	CookieName string

	// SaveInterval is the delay between the first update of a session
	// and its write to the store
	SaveInterval time.Duration

	// ExpireTimeout is the idle time after which a session is no longer
	// accepted; zero disables expiry
	ExpireTimeout time.Duration

	// FlushTimeout bounds a single store call, writes and shared lookups alike
	FlushTimeout time.Duration

	// FlushWorkers bounds concurrent writes during Flush
	FlushWorkers int
}

// CookieInfo describes the cookie a client should store
type CookieInfo struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	// Lifetime in milliseconds, nil for a browser-session cookie
	Lifetime *int64 `json:"lifetime"`
}

type pending struct {
	snapshot *Session
	timer    *time.Timer
}

// Registry resolves bearer credentials to live sessions and absorbs
// per-request updates in memory. The first update of a session schedules
// a single write SaveInterval later; updates arriving before it fires only
// replace the snapshot that will be written.
type Registry struct {
	store   SessionStore
	users   UserFinder
	codec   *Codec
	info    *InfoBuilder
	tokens  *auth.TokenGenerator
	opts    Options
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	group singleflight.Group

	mu      sync.Mutex
	pending map[int64]*pending
	// snapshots handed to the store and not yet acknowledged
	flushing map[int64]*Session
	// token to id for every session in pending or flushing
	ids map[string]int64

	now func() time.Time
}

// NewRegistry creates a registry. A nil metrics records into unregistered collectors.
func NewRegistry(store SessionStore, finder UserFinder, codec *Codec, info *InfoBuilder, opts Options, logger logrus.FieldLogger, metrics *observability.Metrics) *Registry {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 60 * time.Second
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	if opts.FlushWorkers <= 0 {
		opts.FlushWorkers = 8
	}
	if info == nil {
		info = &InfoBuilder{}
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}

	return &Registry{
		store:   store,
		users:   finder,
		codec:   codec,
		info:    info,
		tokens:  auth.NewTokenGenerator(),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		pending:  make(map[int64]*pending),
		flushing: make(map[int64]*Session),
		ids:      make(map[string]int64),
		now:      time.Now,
	}
}

func (r *Registry) clock() time.Time {
	return Timestamp(r.now())
}

// Start creates and persists a session for user
func (r *Registry) Start(ctx context.Context, user *users.User, rc RequestContext) (*Session, error) {
	if user == nil || user.ID == 0 {
		return nil, fmt.Errorf("%w: session owner has no id", auth.ErrValidation)
	}

	token, err := r.tokens.SessionToken()
	if err != nil {
		return nil, err
	}

	now := r.clock()
	userID := user.ID
	s := &Session{
		Token:     token,
		UserID:    &userID,
		Payload:   map[string]interface{}{},
		Info:      r.info.Build(ctx, rc),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.Save(ctx, s); err != nil {
		return nil, err
	}

	r.metrics.SessionStartsTotal.Inc()
	r.logger.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    userID,
	}).Info("Session started")
	return s, nil
}

// Load resolves an encoded credential to its session and owner. Empty,
// forged or unknown credentials and expired sessions yield (nil, nil, nil);
// only store failures are errors. The returned session is a private copy.
func (r *Registry) Load(ctx context.Context, encoded string, rc RequestContext) (*Session, *users.User, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.Load")
	defer span.End()

	s, result, err := r.resolve(ctx, encoded)
	r.metrics.SessionLoadsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("session.result", result))
	if err != nil || s == nil {
		if err != nil {
			span.RecordError(err)
		}
		return nil, nil, err
	}

	s.Info = r.info.Build(ctx, rc)
	if now := r.clock(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
	if err := r.Update(s); err != nil {
		return nil, nil, err
	}

	span.SetAttributes(attribute.Int64("session.id", s.ID))
	if s.UserID == nil {
		return s, nil, nil
	}

	user, err := r.users.FindByID(ctx, *s.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return s, user, nil
}

func (r *Registry) resolve(ctx context.Context, encoded string) (*Session, string, error) {
	if encoded == "" {
		return nil, "absent", nil
	}

	token, err := r.codec.Decode(encoded)
	if err != nil || r.tokens.ValidateTokenFormat(token) != nil {
		return nil, "invalid", nil
	}

	// anything in memory now is at least as new as what the lookup can return
	r.mu.Lock()
	before := r.newestLocked(r.ids[token])
	r.mu.Unlock()

	durable, err := r.lookup(ctx, token)
	if err != nil {
		return nil, "error", err
	}
	if durable == nil {
		return nil, "absent", nil
	}

	// the durable value may be shared with concurrent callers
	s := durable.Clone()
	result := "hit"

	r.mu.Lock()
	after := r.newestLocked(s.ID)
	r.mu.Unlock()

	for _, snap := range []*Session{before, after} {
		if snap != nil && snap.ID == s.ID && snap.UpdatedAt.After(s.UpdatedAt) {
			s = snap.Clone()
			result = "cached"
		}
	}

	if r.expired(s) {
		r.metrics.SessionsExpiredTotal.Inc()
		return nil, "expired", nil
	}
	return s, result, nil
}

// lookup shares one durable read among concurrent callers for a token. The
// read runs detached from any single caller and is bounded by FlushTimeout;
// each caller still gives up on its own context.
func (r *Registry) lookup(ctx context.Context, token string) (*Session, error) {
	ch := r.group.DoChan(token, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FlushTimeout)
		defer cancel()
		return r.store.FindByToken(lctx, token)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s, _ := res.Val.(*Session)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newestLocked returns the latest in-memory snapshot of id, or nil
func (r *Registry) newestLocked(id int64) *Session {
	if id == 0 {
		return nil
	}
	var newest *Session
	if p, ok := r.pending[id]; ok {
		newest = p.snapshot
	}
	if f, ok := r.flushing[id]; ok && (newest == nil || f.UpdatedAt.After(newest.UpdatedAt)) {
		newest = f
	}
	return newest
}

func (r *Registry) expired(s *Session) bool {
	if r.opts.ExpireTimeout <= 0 {
		return false
	}
	return s.UpdatedAt.Add(r.opts.ExpireTimeout).Before(r.clock())
}

// Update records s as the latest state of its session. The first update
// after a write schedules the next write; later ones only replace the snapshot.
func (r *Registry) Update(s *Session) error {
	if s == nil || s.ID == 0 {
		return fmt.Errorf("%w: session has no id", auth.ErrValidation)
	}
	snapshot := s.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[s.ID]; ok {
		p.snapshot = snapshot
		return nil
	}

	p := &pending{snapshot: snapshot}
	id := s.ID
	p.timer = time.AfterFunc(r.opts.SaveInterval, func() { r.fire(id, p) })
	r.pending[id] = p
	r.ids[s.Token] = id
	r.metrics.SessionsPending.Set(float64(len(r.pending)))
	return nil
}

func (r *Registry) fire(id int64, p *pending) {
	r.mu.Lock()
	if current, ok := r.pending[id]; !ok || current != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	snapshot := p.snapshot
	r.flushing[id] = snapshot
	r.metrics.SessionsPending.Set(float64(len(r.pending)))
	r.mu.Unlock()

	async.SafeGo(context.Background(), r.logger, r.opts.FlushTimeout, "session flush", func(ctx context.Context) error {
		defer r.settle(snapshot)
		return r.write(ctx, snapshot.Clone())
	})
}

// settle drops snapshot from the in-flight set once its write has returned
func (r *Registry) settle(snapshot *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushing[snapshot.ID] == snapshot {
		delete(r.flushing, snapshot.ID)
	}
	if _, ok := r.pending[snapshot.ID]; !ok {
		if _, ok := r.flushing[snapshot.ID]; !ok {
			delete(r.ids, snapshot.Token)
		}
	}
}

func (r *Registry) write(ctx context.Context, s *Session) error {
	start := time.Now()
	err := r.store.Save(ctx, s)
	r.metrics.SessionFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.SessionFlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to flush session %d: %w", s.ID, err)
	}
	r.metrics.SessionFlushesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Flush cancels every scheduled write and performs it now. It is meant
// for shutdown; failures are returned joined.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	snapshots := make([]*Session, 0, len(r.pending))
	for id, p := range r.pending {
		p.timer.Stop()
		snapshots = append(snapshots, p.snapshot)
		r.flushing[id] = p.snapshot
		delete(r.pending, id)
	}
	r.metrics.SessionsPending.Set(0)
	r.mu.Unlock()

	if len(snapshots) == 0 {
		return nil
	}

	r.logger.WithField("sessions", len(snapshots)).Info("Flushing pending sessions")
	errs := async.Batch(ctx, snapshots, r.opts.FlushWorkers, r.opts.FlushTimeout, func(ctx context.Context, s *Session) error {
		defer r.settle(s)
		return r.write(ctx, s.Clone())
	})
	return errors.Join(errs...)
}

// Observe is an invalidation listener for the "sessions-by-token" topic. A
// change to a row this process still has queued is only logged: the queued
// write goes through the store's newer-wins guard.
func (r *Registry) Observe(ctx context.Context, token string) {
	r.mu.Lock()
	id, held := r.ids[token]
	r.mu.Unlock()
	if !held {
		return
	}
	r.logger.WithField("session_id", id).Debug("Session row changed while a write is queued")
}

// Pending returns the number of sessions waiting to be written
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CookieName returns the name of the session cookie
func (r *Registry) CookieName() string {
	return r.opts.CookieName
}

// CookieInfo returns the cookie descriptor handed to clients after sign-in
func (r *Registry) CookieInfo(s *Session) (CookieInfo, error) {
	value, err := r.codec.Encode(s)
	if err != nil {
		return CookieInfo{}, err
	}

	ci := CookieInfo{Name: r.opts.CookieName, Value: value}
	if r.opts.ExpireTimeout > 0 {
		ms := r.opts.ExpireTimeout.Milliseconds()
		ci.Lifetime = &ms
	}
	return ci, nil
}

// Cookie returns the session cookie for s
func (r *Registry) Cookie(s *Session) (*http.Cookie, error) {
	ci, err := r.CookieInfo(s)
	if err != nil {
		return nil, err
	}

	c := &http.Cookie{
		Name:     ci.Name,
		Value:    ci.Value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if r.opts.ExpireTimeout > 0 {
		c.MaxAge = int(r.opts.ExpireTimeout.Seconds())
		c.Expires = r.now().Add(r.opts.ExpireTimeout)
	}
	return c, nil
}

// ClearCookie returns an expired session cookie. Logout only revokes the
// credential on the client; the row is removed by the expiry sweep.
func (r *Registry) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     r.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
