package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
)

// Store persists roles and permissions
type Store struct {
	db        *sql.DB
	reader    *sql.DB
	cache     cache.Cache
	publisher cache.Publisher
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, c cache.Cache, p cache.Publisher) *Store {
	return &Store{db: db, reader: db, cache: c, publisher: p}
}

// WithReader sends the full role listing to a read replica
func (s *Store) WithReader(db *sql.DB) *Store {
	if db != nil {
		s.reader = db
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role   Role
		parent sql.NullInt64
	)
	if err := row.Scan(&role.ID, &parent, &role.Title); err != nil {
		return nil, err
	}
	if parent.Valid {
		id := parent.Int64
		role.ParentID = &id
	}
	return &role, nil
}

func scanPermission(row rowScanner) (*Permission, error) {
	var (
		p                Permission
		resource, action sql.NullString
	)
	if err := row.Scan(&p.ID, &p.RoleID, &resource, &action); err != nil {
		return nil, err
	}
	if resource.Valid {
		p.Resource = &resource.String
	}
	if action.Valid {
		p.Action = &action.String
	}
	return &p, nil
}

func (s *Store) findRole(ctx context.Context, op, where string, arg interface{}) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, parent_id, title FROM roles WHERE `+where, arg)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Persistence(op, err)
	}
	return role, nil
}

// RoleByID returns the role or nil when there is none
func (s *Store) RoleByID(ctx context.Context, id int64) (*Role, error) {
	key := cache.Key("roles", "id", id)

	var cached Role
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		return &cached, nil
	}

	role, err := s.findRole(ctx, "rbac.RoleByID", "id = $1", id)
	if err != nil || role == nil {
		return nil, err
	}

	_ = cache.SetJSON(ctx, s.cache, key, role)
	return role, nil
}

// RoleByTitle returns the role or nil when there is none
func (s *Store) RoleByTitle(ctx context.Context, title string) (*Role, error) {
	return s.findRole(ctx, "rbac.RoleByTitle", "title = $1", strings.TrimSpace(title))
}

// RoleIDByTitle returns the id of the titled role, or 0 when it does not exist
func (s *Store) RoleIDByTitle(ctx context.Context, title string) (int64, error) {
	role, err := s.RoleByTitle(ctx, title)
	if err != nil || role == nil {
		return 0, err
	}
	return role.ID, nil
}

// Roles lists all roles ordered by id
func (s *Store) Roles(ctx context.Context) ([]Role, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT id, parent_id, title FROM roles ORDER BY id`)
	if err != nil {
		return nil, auth.Persistence("rbac.Roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, auth.Persistence("rbac.Roles", err)
		}
		roles = append(roles, *role)
	}
	return roles, auth.Persistence("rbac.Roles", rows.Err())
}

// RolesByUser returns the roles granted directly to a user. The cache holds
// role ids only so that role edits never leave a stale copy in a user's list.
func (s *Store) RolesByUser(ctx context.Context, userID int64) ([]Role, error) {
	key := cache.Key("roles", "user-id", userID)

	var ids []int64
	if ok, err := cache.GetJSON(ctx, s.cache, key, &ids); err != nil || !ok {
		ids, err = s.roleIDsByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		_ = cache.SetJSON(ctx, s.cache, key, ids)
	}

	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.RoleByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if role != nil {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

func (s *Store) roleIDsByUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id
	`, userID)
	if err != nil {
		return nil, auth.Persistence("rbac.RolesByUser", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, auth.Persistence("rbac.RolesByUser", err)
		}
		ids = append(ids, id)
	}
	return ids, auth.Persistence("rbac.RolesByUser", rows.Err())
}

// PermissionsByRole returns the permissions attached to one role. Parents
// are not consulted.
func (s *Store) PermissionsByRole(ctx context.Context, roleID int64) ([]Permission, error) {
	key := cache.Key("permissions", "role-id", roleID)

	var cached []Permission
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role_id, resource, action FROM permissions WHERE role_id = $1 ORDER BY id
	`, roleID)
	if err != nil {
		return nil, auth.Persistence("rbac.PermissionsByRole", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, auth.Persistence("rbac.PermissionsByRole", err)
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.Persistence("rbac.PermissionsByRole", err)
	}

	_ = cache.SetJSON(ctx, s.cache, key, perms)
	return perms, nil
}

// SaveRole inserts a role without an id or updates an existing one. A
// parent that would close a loop is rejected with auth.ErrConfiguration.
func (s *Store) SaveRole(ctx context.Context, role *Role) error {
	role.Title = strings.TrimSpace(role.Title)
	if role.Title == "" {
		return fmt.Errorf("%w: role title is required", auth.ErrValidation)
	}
	if role.ParentID != nil {
		if err := s.checkAncestry(ctx, role.ID, *role.ParentID); err != nil {
			return err
		}
	}

	if role.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO roles (parent_id, title) VALUES ($1, $2) RETURNING id
		`, role.ParentID, role.Title).Scan(&role.ID)
		return auth.Persistence("rbac.SaveRole", err)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE roles SET parent_id = $1, title = $2 WHERE id = $3
	`, role.ParentID, role.Title, role.ID)
	if err != nil {
		return auth.Persistence("rbac.SaveRole", err)
	}
	return s.evict(ctx, cache.Key("roles", "id", role.ID))
}

// checkAncestry walks up from parentID and fails if it reaches roleID
func (s *Store) checkAncestry(ctx context.Context, roleID, parentID int64) error {
	seen := map[int64]bool{}
	for id := parentID; ; {
		if roleID != 0 && id == roleID {
			return fmt.Errorf("%w: role %d cannot descend from itself", auth.ErrConfiguration, roleID)
		}
		if seen[id] {
			return fmt.Errorf("%w: role %d has a looping parent chain", auth.ErrConfiguration, id)
		}
		seen[id] = true

		parent, err := s.RoleByID(ctx, id)
		if err != nil {
			return err
		}
		if parent == nil {
			if id == parentID {
				return fmt.Errorf("%w: parent role %d does not exist", auth.ErrValidation, parentID)
			}
			return nil
		}
		if parent.ParentID == nil {
			return nil
		}
		id = *parent.ParentID
	}
}

// DeleteRole removes a role. Its permissions and grants cascade and its
// children become roots.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM roles WHERE parent_id = $1`, id)
	if err != nil {
		return auth.Persistence("rbac.DeleteRole", err)
	}
	keys := []string{cache.Key("roles", "id", id), cache.Key("permissions", "role-id", id)}
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return auth.Persistence("rbac.DeleteRole", err)
		}
		keys = append(keys, cache.Key("roles", "id", child))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return auth.Persistence("rbac.DeleteRole", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return auth.Persistence("rbac.DeleteRole", err)
	}
	return s.evict(ctx, keys...)
}

// SavePermission inserts a permission without an id or updates an existing one
func (s *Store) SavePermission(ctx context.Context, p *Permission) error {
	if p.RoleID == 0 {
		return fmt.Errorf("%w: permission needs a role", auth.ErrValidation)
	}

	if p.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO permissions (role_id, resource, action) VALUES ($1, $2, $3) RETURNING id
		`, p.RoleID, p.Resource, p.Action).Scan(&p.ID)
		if err != nil {
			return auth.Persistence("rbac.SavePermission", err)
		}
		return s.evict(ctx, cache.Key("permissions", "role-id", p.RoleID))
	}

	var previous int64
	err := s.db.QueryRowContext(ctx, `SELECT role_id FROM permissions WHERE id = $1`, p.ID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: permission %d does not exist", auth.ErrValidation, p.ID)
	}
	if err != nil {
		return auth.Persistence("rbac.SavePermission", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE permissions SET role_id = $1, resource = $2, action = $3 WHERE id = $4
	`, p.RoleID, p.Resource, p.Action, p.ID)
	if err != nil {
		return auth.Persistence("rbac.SavePermission", err)
	}

	keys := []string{cache.Key("permissions", "role-id", p.RoleID)}
	if previous != p.RoleID {
		keys = append(keys, cache.Key("permissions", "role-id", previous))
	}
	return s.evict(ctx, keys...)
}

// DeletePermission removes a permission; deleting a missing one is a no-op
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	var roleID int64
	err := s.db.QueryRowContext(ctx, `DELETE FROM permissions WHERE id = $1 RETURNING role_id`, id).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return auth.Persistence("rbac.DeletePermission", err)
	}
	return s.evict(ctx, cache.Key("permissions", "role-id", roleID))
}

func (s *Store) evict(ctx context.Context, keys ...string) error {
	return auth.Persistence("rbac.evict", cache.Evict(ctx, s.cache, s.publisher, keys...))
}
