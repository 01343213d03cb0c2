package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/storage/storetest"
)

func cached(t *testing.T, c cache.Cache, key string) bool {
	t.Helper()
	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestStore_RoleCRUD(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	parent := f.role(t, "Parent", nil)
	child := f.role(t, " Child ", parent)
	assert.Equal(t, "Child", child.Title, "titles are trimmed")

	got, err := f.store.RoleByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, parent.ID, *got.ParentID)
	assert.True(t, cached(t, f.cache, cache.Key("roles", "id", child.ID)))

	child.Title = "Renamed"
	require.NoError(t, f.store.SaveRole(ctx, child))
	assert.False(t, cached(t, f.cache, cache.Key("roles", "id", child.ID)), "update evicts")

	got, err = f.store.RoleByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	byTitle, err := f.store.RoleByTitle(ctx, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, child.ID, byTitle.ID)

	none, err := f.store.RoleByID(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, none)

	id, err := f.store.RoleIDByTitle(ctx, "Nope")
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, f.store.DeleteRole(ctx, child.ID))
	gone, err := f.store.RoleByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_SaveRoleValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.store.SaveRole(ctx, &Role{Title: "  "}), auth.ErrValidation)

	missing := int64(999)
	assert.ErrorIs(t, f.store.SaveRole(ctx, &Role{Title: "Orphan", ParentID: &missing}), auth.ErrValidation)

	a := f.role(t, "A", nil)
	b := f.role(t, "B", a)
	c := f.role(t, "C", b)

	a.ParentID = &c.ID
	assert.ErrorIs(t, f.store.SaveRole(ctx, a), auth.ErrConfiguration, "A under C would loop")

	self := &Role{ID: b.ID, Title: "B", ParentID: &b.ID}
	assert.ErrorIs(t, f.store.SaveRole(ctx, self), auth.ErrConfiguration)
}

func TestStore_RolesByUserCaching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r1 := f.role(t, "One", nil)
	r2 := f.role(t, "Two", nil)
	u := f.user(t, "cache@example.com", r1)

	roles, err := f.store.RolesByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, cached(t, f.cache, cache.Key("roles", "user-id", u.ID)))

	require.NoError(t, f.users.AddRole(ctx, u.ID, r2.ID))
	assert.False(t, cached(t, f.cache, cache.Key("roles", "user-id", u.ID)), "granting evicts the user's list")

	roles, err = f.store.RolesByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	r2.Title = "Second"
	require.NoError(t, f.store.SaveRole(ctx, r2))
	roles, err = f.store.RolesByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "Second", roles[1].Title, "role edits show through a cached list")

	require.NoError(t, f.users.RemoveRole(ctx, u.ID, r1.ID))
	roles, err = f.store.RolesByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, r2.ID, roles[0].ID)

	empty, err := f.store.RolesByUser(ctx, 4242)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_PermissionsCaching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.role(t, "Editor", nil, Permission{Resource: Ptr("docs"), Action: Ptr("edit")})
	other := f.role(t, "Other", nil)

	perms, err := f.store.PermissionsByRole(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "docs:edit", perms[0].String())
	key := cache.Key("permissions", "role-id", r.ID)
	assert.True(t, cached(t, f.cache, key))

	p := perms[0]
	p.Action = nil
	require.NoError(t, f.store.SavePermission(ctx, &p))
	assert.False(t, cached(t, f.cache, key))

	perms, err = f.store.PermissionsByRole(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "docs:*", perms[0].String())

	// moving a permission evicts both roles
	_, err = f.store.PermissionsByRole(ctx, other.ID)
	require.NoError(t, err)
	p.RoleID = other.ID
	require.NoError(t, f.store.SavePermission(ctx, &p))
	assert.False(t, cached(t, f.cache, key))
	assert.False(t, cached(t, f.cache, cache.Key("permissions", "role-id", other.ID)))

	moved, err := f.store.PermissionsByRole(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, moved, 1)

	require.NoError(t, f.store.DeletePermission(ctx, p.ID))
	require.NoError(t, f.store.DeletePermission(ctx, p.ID), "deleting twice is a no-op")
	moved, err = f.store.PermissionsByRole(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, moved)

	assert.ErrorIs(t, f.store.SavePermission(ctx, &Permission{}), auth.ErrValidation)
	assert.ErrorIs(t, f.store.SavePermission(ctx, &Permission{ID: 4242, RoleID: r.ID}), auth.ErrValidation)
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

func TestStore_WritesPublishInvalidations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pub := &recordingPublisher{}
	store := NewStore(db, cache.Nop{}, pub)

	mock.ExpectQuery("DELETE FROM permissions").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(9))

	require.NoError(t, store.DeletePermission(context.Background(), 3))
	assert.Equal(t, []string{cache.Key("permissions", "role-id", 9)}, pub.keys)

	mock.ExpectQuery("SELECT id FROM roles WHERE parent_id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectExec("DELETE FROM roles").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))

	pub.keys = nil
	require.NoError(t, store.DeleteRole(context.Background(), 9))
	assert.ElementsMatch(t, []string{
		cache.Key("roles", "id", 9),
		cache.Key("permissions", "role-id", 9),
		cache.Key("roles", "id", 10),
	}, pub.keys)

	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id").WillReturnError(errors.New("connection reset"))
	_, err = store.RoleByID(context.Background(), 1)
	assert.ErrorIs(t, err, auth.ErrPersistence)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequirePermission(t *testing.T) {
	f := setup(t)
	r := f.role(t, "Member", nil, Permission{Resource: Ptr("account.profile")})
	member := f.user(t, "m@example.com", r)
	stranger := f.user(t, "s@example.com")

	handler := RequirePermission(f.checker, "account.profile", "list")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		user   interface{}
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"no roles", stranger, http.StatusForbidden},
		{"member", member, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/account/profile", nil)
			if tt.user != nil {
				req = req.WithContext(contextkeys.WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSeed_KeepsExistingParent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	custom := f.role(t, RoleUser, nil)
	require.NoError(t, Seed(ctx, f.store, logger))

	got, err := f.store.RoleByID(ctx, custom.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)
}

func TestStore_RolesReadFromReader(t *testing.T) {
	primary := storetest.OpenSQLite(t)
	replica := storetest.OpenSQLite(t)
	ctx := context.Background()

	require.NoError(t, NewStore(replica, cache.Nop{}, cache.Nop{}).SaveRole(ctx, &Role{Title: "OnReplica"}))

	store := NewStore(primary, cache.Nop{}, cache.Nop{}).WithReader(replica)
	roles, err := store.Roles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "OnReplica", roles[0].Title)

	byTitle, err := store.RoleByTitle(ctx, "OnReplica")
	require.NoError(t, err)
	assert.Nil(t, byTitle, "single lookups stay on the primary")
}
