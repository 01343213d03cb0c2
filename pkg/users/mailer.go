package users

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Mailer delivers the confirmation secret of a new account
type Mailer interface {
	SendConfirmation(ctx context.Context, u *User, secret string) error
}

// LogMailer writes confirmation secrets to the log. It stands in for a
// real mail transport in development.
type LogMailer struct {
	logger logrus.FieldLogger
}

// NewLogMailer creates a mailer that logs instead of sending
func NewLogMailer(logger logrus.FieldLogger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendConfirmation logs the secret at info level
func (m *LogMailer) SendConfirmation(ctx context.Context, u *User, secret string) error {
	m.logger.WithFields(logrus.Fields{
		"user_id": u.ID,
		"email":   u.Email,
		"secret":  secret,
	}).Info("Account confirmation")
	return nil
}
