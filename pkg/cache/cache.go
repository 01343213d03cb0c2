package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Prefix marks keys holding cached rows of the relational store
const Prefix = "sql:"

var (
	// ErrInvalidKey is returned for an empty cache key
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrInvalidMessage is returned for an invalidation payload without a key
	ErrInvalidMessage = errors.New("invalid invalidation message")
)

// Cache is a byte-oriented key-value store. A miss is reported as
// (nil, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Unset(ctx context.Context, key string) error
}

// Key builds the key for rows of table looked up by column, e.g.
// Key("sessions", "token", "abc") == "sql:sessions-by-token:abc".
func Key(table, column string, value interface{}) string {
	return fmt.Sprintf("%s%s-by-%s:%v", Prefix, table, column, value)
}

// Family returns the "<table>-by-<column>" part of a key, used as a metric label
func Family(key string) string {
	rest := strings.TrimPrefix(key, Prefix)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// GetJSON reads key and decodes it into v. A corrupt entry is removed and
// reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = c.Unset(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, c Cache, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.Set(ctx, key, data)
}

// Evict unsets keys locally and announces them on the invalidation channel
// so that other processes drop their copies too.
func Evict(ctx context.Context, c Cache, p Publisher, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := c.Unset(ctx, key); err != nil {
			errs = append(errs, err)
		}
		if err := p.Publish(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop is a disabled cache and publisher: every read misses and every write succeeds
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error          { return nil }
func (Nop) Unset(context.Context, string) error                { return nil }
func (Nop) Publish(context.Context, string) error              { return nil }

type instrumented struct {
	Cache
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

// Instrument counts hits and misses of c by key family
func Instrument(c Cache, hits, misses *prometheus.CounterVec) Cache {
	return &instrumented{Cache: c, hits: hits, misses: misses}
}

func (c *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.Cache.Get(ctx, key)
	if err == nil {
		if ok {
			c.hits.WithLabelValues(Family(key)).Inc()
		} else {
			c.misses.WithLabelValues(Family(key)).Inc()
		}
	}
	return data, ok, err
}
