package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// DBLogger stores audit events in the audit_events table
type DBLogger struct {
	db     *sql.DB
	reader *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database connection is required", auth.ErrConfiguration)
	}
	return &DBLogger{db: db, reader: db}, nil
}

// WithReader runs Recent against a read replica
func (l *DBLogger) WithReader(db *sql.DB) *DBLogger {
	if db != nil {
		l.reader = db
	}
	return l
}

// Log inserts event and sets its id
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, status, user_id, email,
			ip_address, user_agent, request_id, method, path,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		event.Timestamp, string(event.EventType), string(event.Status), event.UserID, event.Email,
		event.IPAddress, event.UserAgent, event.RequestID, event.Method, event.Path,
		event.Message, metadata,
	).Scan(&event.ID)
	return auth.Persistence("audit.Log", err)
}

// Recent returns the newest events matching filter. Limit defaults to 50.
func (l *DBLogger) Recent(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, event_type, status, user_id, email,
			ip_address, user_agent, request_id, method, path, message, metadata
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args))

	rows, err := l.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, auth.Persistence("audit.Recent", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                                     Event
			eventType, status                     string
			userID                                sql.NullInt64
			email, ip, ua, reqID, method, path, m sql.NullString
			metadata                              sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &status, &userID, &email,
			&ip, &ua, &reqID, &method, &path, &m, &metadata); err != nil {
			return nil, auth.Persistence("audit.Recent", err)
		}
		e.EventType, e.Status = EventType(eventType), EventStatus(status)
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		e.Email, e.IPAddress, e.UserAgent = email.String, ip.String, ua.String
		e.RequestID, e.Method, e.Path, e.Message = reqID.String, method.String, path.String, m.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, auth.Persistence("audit.Recent", rows.Err())
}

// Close is a no-op; the pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}
