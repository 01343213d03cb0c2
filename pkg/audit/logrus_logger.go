package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log entries
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates an audit logger on top of logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes event at info level, or warn level for failures and denials
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"status":     event.Status,
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.Email != "" {
		fields["email"] = event.Email
	}
	if event.IPAddress != "" {
		fields["ip"] = event.IPAddress
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}
