package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the logger
	Close() error
}

// NewEvent starts an event for r. ipHeader names the header trusted for the
// client address; empty means the socket address is used.
func NewEvent(r *http.Request, eventType EventType, status EventStatus, ipHeader string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		IPAddress: clientIP(r, ipHeader),
		UserAgent: r.UserAgent(),
		RequestID: requestID(r),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// WithUser sets the actor of e
func (e *Event) WithUser(id int64, email string) *Event {
	if id != 0 {
		e.UserID = &id
	}
	e.Email = email
	return e
}

// WithMessage sets the message of e
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

func requestID(r *http.Request) string {
	if id := contextkeys.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func clientIP(r *http.Request, header string) string {
	if header != "" {
		if v := strings.TrimSpace(strings.Split(r.Header.Get(header), ",")[0]); v != "" {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Nop discards events
type Nop struct{}

func (Nop) Log(context.Context, *Event) error { return nil }
func (Nop) Close() error                      { return nil }

// MultiLogger logs to several audit loggers in order
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to every given logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes event to every logger, continuing past failures
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
