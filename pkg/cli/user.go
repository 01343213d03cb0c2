package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/users"
)

func newUserCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "user",
		Description: "Create or update a user",
		Flags:       flag.NewFlagSet("user", flag.ContinueOnError),
	}
	name := cmd.Flags.String("name", "", "Display name")
	password := cmd.Flags.String("password", "", "Password")
	var addRoles, removeRoles stringList
	cmd.Flags.Var(&addRoles, "add-role", "Grant a role by title (repeatable)")
	cmd.Flags.Var(&removeRoles, "remove-role", "Revoke a role by title (repeatable)")

	cmd.Run = func(args []string) error {
		*name, *password = "", ""
		addRoles, removeRoles = nil, nil

		// the e-mail address may precede the flags
		var email string
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			email, args = args[0], args[1:]
		}
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if email == "" {
			email = cmd.Flags.Arg(0)
		}
		email = users.NormalizeEmail(email)
		if email == "" {
			return errors.New("usage: user <email> [-name name] [-password password] [-add-role title] [-remove-role title]")
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}
		roleStore := rbac.NewStore(b.Primary(), b.Cache, b.Publisher)
		userStore := users.NewStore(b.Primary(), b.Cache, b.Publisher)
		service := users.NewService(userStore, roleStore, nil, rt.Logger)

		u, err := userStore.FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		created := u == nil
		if created {
			if *password == "" {
				return errors.New("a password is required for new users")
			}
			now := time.Now()
			u = &users.User{Email: email, CreatedAt: now, ConfirmedAt: &now}
		}

		if *name != "" {
			u.DisplayName = name
		}
		if *password != "" {
			hash, err := service.HashPassword(*password)
			if err != nil {
				return err
			}
			u.Password = &hash
		}
		if created || *name != "" || *password != "" {
			if err := userStore.Save(ctx, u); err != nil {
				return err
			}
		}

		for _, title := range addRoles {
			id, err := roleID(ctx, roleStore, title)
			if err != nil {
				return err
			}
			if err := userStore.AddRole(ctx, u.ID, id); err != nil {
				return err
			}
		}
		for _, title := range removeRoles {
			id, err := roleID(ctx, roleStore, title)
			if err != nil {
				return err
			}
			if err := userStore.RemoveRole(ctx, u.ID, id); err != nil {
				return err
			}
		}

		if created {
			rt.printf("Created user %s (id %d)\n", u.Email, u.ID)
		} else {
			rt.printf("Updated user %s (id %d)\n", u.Email, u.ID)
		}
		return nil
	}
	return cmd
}

func roleID(ctx context.Context, store *rbac.Store, title string) (int64, error) {
	id, err := store.RoleIDByTitle(ctx, title)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("role %s not found", title)
	}
	return id, nil
}
