package cli

import (
	"context"
	"flag"

	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
)

func newMigrateCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	rollback := cmd.Flags.Int("rollback", -1, "Roll back to this schema version instead of migrating")

	cmd.Run = func(args []string) error {
		*rollback = -1
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}

		if *rollback >= 0 {
			if err := postgres.Rollback(ctx, b.Primary(), *rollback, rt.Logger); err != nil {
				return err
			}
			rt.printf("Rolled back to version %d\n", *rollback)
			return nil
		}

		if err := postgres.RunMigrations(ctx, b.Primary(), rt.Logger); err != nil {
			return err
		}
		rt.printf("Migrations applied\n")
		return nil
	}
	return cmd
}
