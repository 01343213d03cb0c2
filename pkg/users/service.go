package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// DefaultRole is granted to accounts when they are confirmed
const DefaultRole = "User"

// MinPasswordLength is the shortest password accepted at sign-up
const MinPasswordLength = 6

var (
	// ErrEmailTaken is returned by SignUp for an address that is already registered
	ErrEmailTaken = fmt.Errorf("%w: email already registered", auth.ErrValidation)

	// ErrInvalidSecret is returned by Confirm for unknown or used secrets
	ErrInvalidSecret = fmt.Errorf("%w: invalid confirmation secret", auth.ErrValidation)
)

// RoleLookup resolves a role id by title; 0 means there is no such role
type RoleLookup interface {
	RoleIDByTitle(ctx context.Context, title string) (int64, error)
}

// SignUpRequest carries the fields of a new account
type SignUpRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ProfileUpdate changes the display name and/or password; nil leaves a field
// alone. A new password needs the current one when the account has a password.
type ProfileUpdate struct {
	Name            *string `json:"name"`
	CurrentPassword *string `json:"current_password"`
	Password        *string `json:"password"`
}

// Service implements the account workflows on top of Store
type Service struct {
	store  *Store
	roles  RoleLookup
	mailer Mailer
	tokens *auth.TokenGenerator
	logger logrus.FieldLogger

	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
}

// NewService creates the account service
func NewService(store *Store, roles RoleLookup, mailer Mailer, logger logrus.FieldLogger) *Service {
	return &Service{
		store:      store,
		roles:      roles,
		mailer:     mailer,
		tokens:     auth.NewTokenGenerator(),
		logger:     logger,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Store returns the underlying user store
func (s *Service) Store() *Store {
	return s.store
}

// HashPassword returns the bcrypt hash of password
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrValidation, err)
	}
	return string(hash), nil
}

// CheckPassword compares password against the user's hash
func CheckPassword(u *User, password string) bool {
	if u == nil || u.Password == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*u.Password), []byte(password)) == nil
}

// SignUp registers an unconfirmed account and mails its confirmation
// secret. The account is removed again when the mail cannot be sent.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", auth.ErrValidation)
	}
	if len(req.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", auth.ErrValidation, MinPasswordLength)
	}

	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	secret, err := s.tokens.Secret()
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:     email,
		Password:  &hash,
		Secret:    &secret,
		CreatedAt: time.Now(),
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		u.DisplayName = &name
	}

	if err := s.store.Save(ctx, u); err != nil {
		return nil, err
	}

	if err := s.mailer.SendConfirmation(ctx, u, secret); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Error("Failed to send confirmation, removing account")
		if delErr := s.store.Delete(ctx, u.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("user_id", u.ID).Error("Failed to remove unconfirmed account")
		}
		return nil, fmt.Errorf("failed to send confirmation: %w", err)
	}

	s.logger.WithField("user_id", u.ID).Info("Account created")
	return u, nil
}

// Confirm activates the account holding secret and grants DefaultRole
// when that role exists. Unknown secrets and confirmed or blocked
// accounts are rejected with ErrInvalidSecret.
func (s *Service) Confirm(ctx context.Context, secret string) (*User, error) {
	u, err := s.store.FindBySecret(ctx, strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	if u == nil || u.ConfirmedAt != nil || u.BlockedAt != nil {
		return nil, ErrInvalidSecret
	}

	now := timestamp(time.Now())
	u.ConfirmedAt = &now
	u.Secret = nil
	if err := s.store.Save(ctx, u); err != nil {
		return nil, err
	}

	if s.roles != nil {
		roleID, err := s.roles.RoleIDByTitle(ctx, DefaultRole)
		if err != nil {
			return nil, err
		}
		if roleID != 0 {
			if err := s.store.AddRole(ctx, u.ID, roleID); err != nil {
				return nil, err
			}
		}
	}

	s.logger.WithField("user_id", u.ID).Info("Account confirmed")
	return u, nil
}

// Authenticate returns the active user matching email and password.
// Every failure is reported as ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive() || !CheckPassword(u, password) {
		return nil, fmt.Errorf("%w: invalid credentials", auth.ErrUnauthorized)
	}
	return u, nil
}

// UpdateProfile applies update to the stored copy of the user
func (s *Service) UpdateProfile(ctx context.Context, userID int64, update ProfileUpdate) (*User, error) {
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: user %d no longer exists", auth.ErrUnauthorized, userID)
	}

	if update.CurrentPassword != nil && *update.CurrentPassword != "" && !CheckPassword(u, *update.CurrentPassword) {
		return nil, fmt.Errorf("%w: current password is incorrect", auth.ErrValidation)
	}
	if update.Password != nil && u.Password != nil && (update.CurrentPassword == nil || *update.CurrentPassword == "") {
		return nil, fmt.Errorf("%w: current password is required", auth.ErrValidation)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			u.DisplayName = nil
		} else {
			u.DisplayName = &name
		}
	}
	if update.Password != nil {
		if len(*update.Password) < MinPasswordLength {
			return nil, fmt.Errorf("%w: password must be at least %d characters", auth.ErrValidation, MinPasswordLength)
		}
		hash, err := s.HashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		u.Password = &hash
	}

	if err := s.store.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

