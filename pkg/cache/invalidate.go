package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Channel is the pub/sub channel name shared by every transport
const Channel = "invalidate_cache"

// Message is the invalidation payload: {"key": "<table>-by-<column>:<value>"}
type Message struct {
	Key string `json:"key"`
}

// Publisher announces that a cached key is stale
type Publisher interface {
	Publish(ctx context.Context, key string) error
}

// Notifier is a transport for invalidation messages. Listen blocks,
// passing every raw payload to handle, until ctx is cancelled.
type Notifier interface {
	Publisher
	Listen(ctx context.Context, handle func(ctx context.Context, payload []byte)) error
}

// Listener receives the remainder of an invalidated key after its topic
type Listener func(ctx context.Context, remainder string)

// Invalidator drops cached entries named by incoming messages and fans
// the event out to listeners registered per topic. The topic is the key's
// first colon-separated segment.
type Invalidator struct {
	cache  Cache
	logger logrus.FieldLogger

	mu        sync.RWMutex
	listeners map[string][]Listener

	invalidations *prometheus.CounterVec
}

// NewInvalidator creates an invalidator for c
func NewInvalidator(c Cache, logger logrus.FieldLogger) *Invalidator {
	return &Invalidator{
		cache:     c,
		logger:    logger,
		listeners: make(map[string][]Listener),
	}
}

// WithMetrics counts handled messages by topic
func (i *Invalidator) WithMetrics(invalidations *prometheus.CounterVec) *Invalidator {
	i.invalidations = invalidations
	return i
}

// On registers fn for topic, e.g. "roles-by-id"
func (i *Invalidator) On(topic string, fn Listener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners[topic] = append(i.listeners[topic], fn)
}

// Handle processes one raw message
func (i *Invalidator) Handle(ctx context.Context, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Key == "" {
		i.logger.WithField("payload", string(payload)).Error("Received invalid cache invalidation message")
		return ErrInvalidMessage
	}

	if err := i.cache.Unset(ctx, Prefix+msg.Key); err != nil {
		i.logger.WithError(err).WithField("key", msg.Key).Error("Invalidation of the cache failed")
		return err
	}

	topic, remainder := msg.Key, ""
	if idx := strings.IndexByte(msg.Key, ':'); idx >= 0 {
		topic, remainder = msg.Key[:idx], msg.Key[idx+1:]
	}

	if i.invalidations != nil {
		i.invalidations.WithLabelValues(topic).Inc()
	}

	i.mu.RLock()
	listeners := append([]Listener(nil), i.listeners[topic]...)
	i.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, remainder)
	}
	return nil
}

// Run consumes n until ctx is cancelled
func (i *Invalidator) Run(ctx context.Context, n Notifier) error {
	i.logger.WithField("channel", Channel).Info("Listening for cache invalidations")
	return n.Listen(ctx, func(ctx context.Context, payload []byte) {
		_ = i.Handle(ctx, payload)
	})
}

func encodeMessage(key string) ([]byte, error) {
	data, err := json.Marshal(Message{Key: strings.TrimPrefix(key, Prefix)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	return data, nil
}
