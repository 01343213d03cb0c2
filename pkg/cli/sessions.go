package cli

import (
	"context"
	"errors"
	"flag"
	"strconv"
	"time"

	"github.com/platinummonkey/turnstile/pkg/session"
)

func newSessionsCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "sessions",
		Description: "List sessions",
		Flags:       flag.NewFlagSet("sessions", flag.ContinueOnError),
	}
	userID := cmd.Flags.Int64("user", 0, "Only list sessions of this user id")

	cmd.Run = func(args []string) error {
		*userID = 0
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}

		list, err := session.NewStore(b.Primary(), b.Cache, b.Publisher).WithReader(b.Replica()).FindAll(ctx, *userID)
		if err != nil {
			return err
		}
		for _, s := range list {
			owner := "anonymous"
			if s.UserID != nil {
				owner = strconv.FormatInt(*s.UserID, 10)
			}
			rt.printf("%-6d user=%-10s ip=%-15s updated=%s\n",
				s.ID, owner, s.Info.IP, s.UpdatedAt.Format(time.RFC3339))
		}
		rt.printf("%d session(s)\n", len(list))
		return nil
	}
	return cmd
}

func newSweepSessionsCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "sweep-sessions",
		Description: "Delete expired sessions",
		Flags:       flag.NewFlagSet("sweep-sessions", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		maxAge := rt.Config.Session.ExpireTimeout
		if maxAge <= 0 {
			return errors.New("session.expire_timeout is not set, sessions never expire")
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}

		store := session.NewStore(b.Primary(), b.Cache, b.Publisher)
		n, err := session.NewSweeper(store, maxAge, rt.Logger, nil).Sweep(ctx)
		if err != nil {
			return err
		}
		rt.printf("Deleted %d expired session(s)\n", n)
		return nil
	}
	return cmd
}

func newClearCacheCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "clear-cache",
		Description: "Drop every cached entry",
		Flags:       flag.NewFlagSet("clear-cache", flag.ContinueOnError),
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
		if err := b.FlushCache(ctx); err != nil {
			return err
		}
		rt.printf("Cache cleared\n")
		return nil
	}
	return cmd
}
