package cli

import (
	"context"
	"flag"
	"strconv"
	"time"

	"github.com/platinummonkey/turnstile/pkg/audit"
)

func newAuditCommand(rt *Runtime) *Command {
	cmd := &Command{
		Name:        "audit",
		Description: "Show recent audit events",
		Flags:       flag.NewFlagSet("audit", flag.ContinueOnError),
	}
	userID := cmd.Flags.Int64("user", 0, "Only show events of this user id")
	eventType := cmd.Flags.String("type", "", "Only show events of this type, e.g. auth.login_failed")
	limit := cmd.Flags.Int("limit", 50, "Maximum number of events")

	cmd.Run = func(args []string) error {
		*userID, *eventType, *limit = 0, "", 50
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		b, err := rt.backend(ctx)
		if err != nil {
			return err
		}
		log, err := audit.NewDBLogger(b.Primary())
		if err != nil {
			return err
		}
		log.WithReader(b.Replica())

		filter := audit.Filter{EventType: audit.EventType(*eventType), Limit: *limit}
		if *userID != 0 {
			filter.UserID = userID
		}
		events, err := log.Recent(ctx, filter)
		if err != nil {
			return err
		}

		for _, e := range events {
			actor := e.Email
			if e.UserID != nil {
				actor += " (" + strconv.FormatInt(*e.UserID, 10) + ")"
			}
			rt.printf("%s %-24s %-8s %-30s ip=%s\n",
				e.Timestamp.Format(time.RFC3339), e.EventType, e.Status, actor, e.IPAddress)
		}
		return nil
	}
	return cmd
}
