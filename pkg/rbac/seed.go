package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
)

type seedRole struct {
	title       string
	parent      string
	permissions []Permission
}

// defaultRoles is ordered so that parents precede their children
var defaultRoles = []seedRole{
	{title: RoleMember, permissions: []Permission{{Resource: Ptr("account.profile")}}},
	{title: RoleAdmin, parent: RoleMember, permissions: []Permission{{}}},
	{title: RoleUser, parent: RoleMember},
}

// Seed creates the built-in roles and their permissions where missing.
// Existing roles keep their parent; running it again changes nothing.
func Seed(ctx context.Context, s *Store, logger logrus.FieldLogger) error {
	ids := make(map[string]int64, len(defaultRoles))

	for _, def := range defaultRoles {
		role, err := s.RoleByTitle(ctx, def.title)
		if err != nil {
			return err
		}
		if role == nil {
			role = &Role{Title: def.title}
			if def.parent != "" {
				parent := ids[def.parent]
				role.ParentID = &parent
			}
			if err := s.SaveRole(ctx, role); err != nil {
				return err
			}
			logger.WithField("role", role.Title).Info("Created role")
		}
		ids[def.title] = role.ID

		existing, err := s.PermissionsByRole(ctx, role.ID)
		if err != nil {
			return err
		}
		for _, want := range def.permissions {
			if hasPermission(existing, want) {
				continue
			}
			p := want
			p.RoleID = role.ID
			if err := s.SavePermission(ctx, &p); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"role":       role.Title,
				"permission": p.String(),
			}).Info("Created permission")
		}
	}
	return nil
}

func hasPermission(perms []Permission, want Permission) bool {
	for _, p := range perms {
		if p.Covers(want) {
			return true
		}
	}
	return false
}
