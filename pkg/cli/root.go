package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/app"
	"github.com/platinummonkey/turnstile/pkg/config"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// Runtime carries what commands need. Backend is opened from Config on
// first use when it is nil.
type Runtime struct {
	Config  *config.Config
	Logger  logrus.FieldLogger
	Out     io.Writer
	Backend *app.Backend
}

func (rt *Runtime) backend(ctx context.Context) (*app.Backend, error) {
	if rt.Backend == nil {
		b, err := app.Connect(ctx, rt.Config, rt.Logger, nil)
		if err != nil {
			return nil, err
		}
		rt.Backend = b
	}
	return rt.Backend, nil
}

// Close releases the backend if one was opened
func (rt *Runtime) Close() error {
	if rt.Backend == nil {
		return nil
	}
	return rt.Backend.Close()
}

func (rt *Runtime) printf(format string, args ...interface{}) {
	fmt.Fprintf(rt.Out, format, args...)
}

// NewRootCommand creates the root command
func NewRootCommand(rt *Runtime) *Command {
	if rt.Out == nil {
		rt.Out = os.Stdout
	}

	root := &Command{
		Name:        "turnstile-cli",
		Description: "Turnstile - session and access control administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("turnstile-cli", flag.ContinueOnError),
		out:         rt.Out,
	}

	for _, cmd := range []*Command{
		newMigrateCommand(rt),
		newSeedRolesCommand(rt),
		newRolesCommand(rt),
		newUserCommand(rt),
		newSessionsCommand(rt),
		newSweepSessionsCommand(rt),
		newClearCacheCommand(rt),
		newAuditCommand(rt),
	} {
		cmd.Flags.SetOutput(rt.Out)
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// stringList collects a repeated string flag
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}
