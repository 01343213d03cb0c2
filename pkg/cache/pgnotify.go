package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresNotifier carries invalidations over LISTEN/NOTIFY. Publishing
// goes through the regular pool; listening holds a dedicated connection.
type PostgresNotifier struct {
	db     *sql.DB
	dsn    string
	logger logrus.FieldLogger

	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

// NewPostgresNotifier publishes through db and listens on a connection to dsn
func NewPostgresNotifier(db *sql.DB, dsn string, logger logrus.FieldLogger) *PostgresNotifier {
	return &PostgresNotifier{
		db:           db,
		dsn:          dsn,
		logger:       logger,
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
		PingInterval: 90 * time.Second,
	}
}

// Publish sends NOTIFY invalidate_cache with the key as payload
func (n *PostgresNotifier) Publish(ctx context.Context, key string) error {
	payload, err := encodeMessage(key)
	if err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and blocks until ctx is cancelled.
// Notifications lost while reconnecting are not replayed.
func (n *PostgresNotifier) Listen(ctx context.Context, handle func(ctx context.Context, payload []byte)) error {
	listener := pq.NewListener(n.dsn, n.MinReconnect, n.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.logger.WithError(err).WithField("event", ev).Warn("Invalidation listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	ticker := time.NewTicker(n.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-listener.Notify:
			// nil after a reconnect
			if notification == nil {
				n.logger.Info("Invalidation listener reconnected")
				continue
			}
			handle(ctx, []byte(notification.Extra))
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					n.logger.WithError(err).Warn("Invalidation listener ping failed")
				}
			}()
		}
	}
}
