package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
)

const sessionColumns = `id, token, user_id, payload, info, created_at, updated_at`

// Store persists sessions. Updates are guarded by updated_at so that a
// process holding an older snapshot can never overwrite a newer row; this
// guard is the only coordination between processes flushing the same
// session.
type Store struct {
	db        *sql.DB
	reader    *sql.DB
	cache     cache.Cache
	publisher cache.Publisher
	now       func() time.Time
}

// NewStore creates a session store
func NewStore(db *sql.DB, c cache.Cache, p cache.Publisher) *Store {
	return &Store{db: db, reader: db, cache: c, publisher: p, now: time.Now}
}

// WithReader sends listings to a read replica. Lookups that must see the
// latest write stay on the primary.
func (s *Store) WithReader(db *sql.DB) *Store {
	if db != nil {
		s.reader = db
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s             Session
		userID        sql.NullInt64
		payload, info []byte
	)
	if err := row.Scan(&s.ID, &s.Token, &userID, &payload, &info, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}

	if userID.Valid {
		s.UserID = &userID.Int64
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode session payload: %w", err)
		}
	}
	if s.Payload == nil {
		s.Payload = map[string]interface{}{}
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &s.Info); err != nil {
			return nil, fmt.Errorf("failed to decode session info: %w", err)
		}
	}
	s.CreatedAt = Timestamp(s.CreatedAt)
	s.UpdatedAt = Timestamp(s.UpdatedAt)
	return &s, nil
}

// Save inserts a session without an id, otherwise updates it unless the
// stored row is at least as new. A row that has disappeared (for example
// swept while the session was still in use) is re-inserted under its id.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Token == "" {
		return fmt.Errorf("%w: session has no token", auth.ErrValidation)
	}

	sess.CreatedAt = Timestamp(sess.CreatedAt)
	sess.UpdatedAt = Timestamp(sess.UpdatedAt)
	if sess.UpdatedAt.Before(sess.CreatedAt) {
		sess.UpdatedAt = sess.CreatedAt
	}

	payload, err := json.Marshal(sess.Payload)
	if err != nil {
		return fmt.Errorf("%w: session payload: %v", auth.ErrValidation, err)
	}
	info, err := json.Marshal(sess.Info)
	if err != nil {
		return fmt.Errorf("%w: session info: %v", auth.ErrValidation, err)
	}

	var userID sql.NullInt64
	if sess.UserID != nil {
		userID = sql.NullInt64{Int64: *sess.UserID, Valid: true}
	}

	err = postgres.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		if sess.ID == 0 {
			return tx.QueryRowContext(ctx, `
				INSERT INTO sessions (token, user_id, payload, info, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, sess.Token, userID, string(payload), string(info), sess.CreatedAt, sess.UpdatedAt).Scan(&sess.ID)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET user_id = $1, payload = $2, info = $3, updated_at = $4
			WHERE id = $5 AND updated_at < $4
		`, userID, string(payload), string(info), sess.UpdatedAt, sess.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}

		// nothing updated: either the durable row is newer or it is gone
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = $1`, sess.ID).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, token, user_id, payload, info, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sess.ID, sess.Token, userID, string(payload), string(info), sess.CreatedAt, sess.UpdatedAt)
		return err
	})
	if err != nil {
		return auth.Persistence("sessions.Save", err)
	}

	return s.evict(ctx, sess.Token)
}

// FindByToken returns the durable session for token or nil. Found rows are cached.
func (s *Store) FindByToken(ctx context.Context, token string) (*Session, error) {
	key := cache.Key("sessions", "token", token)

	var cached Session
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		return &cached, nil
	}

	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Persistence("sessions.FindByToken", err)
	}

	_ = cache.SetJSON(ctx, s.cache, key, sess)
	return sess, nil
}

// FindByID returns the session with id or nil
func (s *Store) FindByID(ctx context.Context, id int64) (*Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Persistence("sessions.FindByID", err)
	}
	return sess, nil
}

// FindAll lists sessions, most recently used first. A userID of 0 lists
// every session.
func (s *Store) FindAll(ctx context.Context, userID int64) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if userID != 0 {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, auth.Persistence("sessions.FindAll", err)
	}
	defer rows.Close()

	var list []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, auth.Persistence("sessions.FindAll", err)
		}
		list = append(list, sess)
	}
	return list, auth.Persistence("sessions.FindAll", rows.Err())
}

// Delete removes the session with id
func (s *Store) Delete(ctx context.Context, id int64) error {
	tokens, err := s.deleteReturning(ctx, `DELETE FROM sessions WHERE id = $1 RETURNING token`, id)
	if err != nil {
		return auth.Persistence("sessions.Delete", err)
	}
	return s.evict(ctx, tokens...)
}

// DeleteExpired removes sessions unused for longer than maxAge and returns
// how many were removed
func (s *Store) DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: max age must be positive", auth.ErrValidation)
	}

	cutoff := Timestamp(s.now().Add(-maxAge))
	tokens, err := s.deleteReturning(ctx, `DELETE FROM sessions WHERE updated_at < $1 RETURNING token`, cutoff)
	if err != nil {
		return 0, auth.Persistence("sessions.DeleteExpired", err)
	}
	return int64(len(tokens)), s.evict(ctx, tokens...)
}

func (s *Store) deleteReturning(ctx context.Context, query string, arg interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *Store) evict(ctx context.Context, tokens ...string) error {
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = cache.Key("sessions", "token", token)
	}
	return auth.Persistence("sessions.evict", cache.Evict(ctx, s.cache, s.publisher, keys...))
}
