package cli

import (
	"context"
	"flag"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/rbac"
)

func newSeedRolesCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "seed-roles",
		Description: "Create the default role hierarchy",
		Flags:       flag.NewFlagSet("seed-roles", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}

		if err := rbac.Seed(ctx, rbac.NewStore(b.Primary(), b.Cache, b.Publisher), rt.Logger); err != nil {
			return err
		}
		rt.printf("Roles seeded\n")
		return nil
	}
	return cmd
}

func newRolesCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "List roles and their permissions",
		Flags:       flag.NewFlagSet("roles", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}
		store := rbac.NewStore(b.Primary(), b.Cache, b.Publisher).WithReader(b.Replica())

		roles, err := store.Roles(ctx)
		if err != nil {
			return err
		}
		titles := make(map[int64]string, len(roles))
		for _, r := range roles {
			titles[r.ID] = r.Title
		}

		for _, r := range roles {
			parent := "-"
			if r.ParentID != nil {
				parent = titles[*r.ParentID]
			}
			perms, err := store.PermissionsByRole(ctx, r.ID)
			if err != nil {
				return err
			}
			list := make([]string, 0, len(perms))
			for _, p := range perms {
				list = append(list, p.String())
			}
			rt.printf("%-4d %-15s parent=%-15s %s\n", r.ID, r.Title, parent, strings.Join(list, " "))
		}
		return nil
	}
	return cmd
}
