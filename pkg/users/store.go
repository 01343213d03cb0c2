package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
)

const userColumns = `id, email, display_name, password, secret, created_at, confirmed_at, blocked_at`

// Store persists users and their role grants
type Store struct {
	db        *sql.DB
	cache     cache.Cache
	publisher cache.Publisher
}

// NewStore creates a user store. Pass cache.Nop{} for both c and p to
// disable caching.
func NewStore(db *sql.DB, c cache.Cache, p cache.Publisher) *Store {
	return &Store{db: db, cache: c, publisher: p}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                       User
		displayName, pw, secret sql.NullString
		confirmedAt, blockedAt  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &displayName, &pw, &secret, &u.CreatedAt, &confirmedAt, &blockedAt)
	if err != nil {
		return nil, err
	}

	u.CreatedAt = u.CreatedAt.UTC()
	if displayName.Valid {
		u.DisplayName = &displayName.String
	}
	if pw.Valid {
		u.Password = &pw.String
	}
	if secret.Valid {
		u.Secret = &secret.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		u.ConfirmedAt = &t
	}
	if blockedAt.Valid {
		t := blockedAt.Time.UTC()
		u.BlockedAt = &t
	}
	return &u, nil
}

func (s *Store) findOne(ctx context.Context, op, where string, arg interface{}) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Persistence(op, err)
	}
	return u, nil
}

// FindByID returns the user or nil when there is none. Found users are cached.
func (s *Store) FindByID(ctx context.Context, id int64) (*User, error) {
	key := cache.Key("users", "id", id)

	var cached User
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		return &cached, nil
	}

	u, err := s.findOne(ctx, "users.FindByID", "id = $1", id)
	if err != nil || u == nil {
		return nil, err
	}

	_ = cache.SetJSON(ctx, s.cache, key, u)
	return u, nil
}

// FindByEmail returns the user with the normalized address or nil
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "users.FindByEmail", "email = $1", NormalizeEmail(email))
}

// FindBySecret returns the user holding a confirmation secret or nil
func (s *Store) FindBySecret(ctx context.Context, secret string) (*User, error) {
	if secret == "" {
		return nil, nil
	}
	return s.findOne(ctx, "users.FindBySecret", "secret = $1", secret)
}

// FindAll lists users ordered by id
func (s *Store) FindAll(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, auth.Persistence("users.FindAll", err)
	}
	defer rows.Close()

	var list []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, auth.Persistence("users.FindAll", err)
		}
		list = append(list, u)
	}
	return list, auth.Persistence("users.FindAll", rows.Err())
}

// Save inserts a user without an id or updates an existing one
func (s *Store) Save(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = timestamp(u.CreatedAt)

	var password interface{}
	if u.Password != nil {
		password = *u.Password
	}

	if u.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO users (email, display_name, password, secret, created_at, confirmed_at, blocked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, u.Email, u.DisplayName, password, u.Secret, u.CreatedAt, nullTime(u.ConfirmedAt), nullTime(u.BlockedAt)).Scan(&u.ID)
		if err != nil {
			return auth.Persistence("users.Save", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $1, display_name = $2, password = $3, secret = $4, confirmed_at = $5, blocked_at = $6
		WHERE id = $7
	`, u.Email, u.DisplayName, password, u.Secret, nullTime(u.ConfirmedAt), nullTime(u.BlockedAt), u.ID)
	if err != nil {
		return auth.Persistence("users.Save", err)
	}

	return s.evict(ctx, cache.Key("users", "id", u.ID))
}

// Delete removes a user; sessions and role grants cascade
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return auth.Persistence("users.Delete", err)
	}
	return s.evict(ctx, cache.Key("users", "id", id), cache.Key("roles", "user-id", id))
}

// AddRole grants a role; granting it twice is a no-op
func (s *Store) AddRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID)
	if err != nil {
		return auth.Persistence("users.AddRole", err)
	}
	return s.evict(ctx, cache.Key("roles", "user-id", userID))
}

// RemoveRole revokes a role
func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return auth.Persistence("users.RemoveRole", err)
	}
	return s.evict(ctx, cache.Key("roles", "user-id", userID))
}

func (s *Store) evict(ctx context.Context, keys ...string) error {
	return auth.Persistence("users.evict", cache.Evict(ctx, s.cache, s.publisher, keys...))
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: timestamp(*t), Valid: true}
}
