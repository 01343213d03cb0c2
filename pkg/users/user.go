package users

import (
	"strings"
	"time"
)

// User is an account owner. Password holds a bcrypt hash; Secret holds the
// confirmation secret until the account is confirmed.
type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"display_name"`
	Password    *string    `json:"password"`
	Secret      *string    `json:"secret"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	BlockedAt   *time.Time `json:"blocked_at"`
}

// IsActive reports whether the user may sign in
func (u *User) IsActive() bool {
	return u != nil && u.ConfirmedAt != nil && u.BlockedAt == nil
}

// Name returns the display name, falling back to the e-mail address
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}

// NormalizeEmail lowercases and trims an e-mail address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
