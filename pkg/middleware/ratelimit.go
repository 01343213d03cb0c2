package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig allows perMinute attempts per minute
func LoginRateLimitConfig(perMinute int) RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: perMinute, WindowDuration: time.Minute}
}

// Limiter decides whether one more request for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// MemoryLimiter is a token bucket per key held in process memory
type MemoryLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates a new in-memory rate limiter
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token from the bucket of key
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.config.RequestsPerWindow)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastUpdate: now}
		l.buckets[key] = b
	}

	// refill proportionally to the elapsed part of the window
	elapsed := now.Sub(b.lastUpdate)
	b.tokens += elapsed.Seconds() * capacity / l.config.WindowDuration.Seconds()
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Window returns the configured window
func (l *MemoryLimiter) Window() time.Duration {
	return l.config.WindowDuration
}

// Cleanup removes buckets that have been full for a whole window
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > l.config.WindowDuration {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RedisLimiter counts requests per fixed window in Redis so that the
// limit holds across processes
type RedisLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{redis: client, config: config, prefix: prefix}
}

// Allow increments the counter of key and reports whether it is within the limit
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		ttl = p.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// a counter without a TTL never resets, whoever left it that way
	if ttl.Val() < 0 {
		if err := l.redis.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return incr.Val() <= int64(l.config.RequestsPerWindow), nil
}

// Window returns the configured window
func (l *RedisLimiter) Window() time.Duration {
	return l.config.WindowDuration
}

// Reset clears the counter of key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by client address. When header is set and present
// it takes precedence over the socket address, matching session info.
func ClientIP(header string) KeyFunc {
	return func(r *http.Request) string {
		if header != "" {
			if ip := strings.TrimSpace(r.Header.Get(header)); ip != "" {
				return "ip:" + ip
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return "ip:" + host
	}
}

// RateLimit rejects requests beyond the limit with 429. Limiter errors
// let the request through.
func RateLimit(limiter Limiter, key KeyFunc, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), key(r))
			if err != nil {
				observability.FromContext(r.Context(), logger).WithError(err).Warn("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", limiter.Window().Seconds()))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
