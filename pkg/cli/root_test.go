package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/config"
)

func newTestRoot(t *testing.T) (*Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewRootCommand(&Runtime{Config: config.Default(), Out: &out}), &out
}

func TestNewRootCommand(t *testing.T) {
	root, _ := newTestRoot(t)

	assert.Equal(t, "turnstile-cli", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"migrate",
		"seed-roles",
		"roles",
		"user",
		"sessions",
		"sweep-sessions",
		"clear-cache",
		"audit",
	}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root, out := newTestRoot(t)

	require.NoError(t, root.Execute(nil))

	output := out.String()
	assert.Contains(t, output, "Usage: turnstile-cli <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "clear-cache")
	assert.Contains(t, output, "sweep-sessions")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("clear-cache")), bytes.Index(out.Bytes(), []byte("user")),
		"commands are listed alphabetically")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "--help", "help"} {
		t.Run(flag, func(t *testing.T) {
			root, out := newTestRoot(t)
			require.NoError(t, root.Execute([]string{flag}))
			assert.Contains(t, out.String(), "Usage: turnstile-cli")
		})
	}
}

func TestCommandExecute_SubcommandWithArgs(t *testing.T) {
	root, _ := newTestRoot(t)

	var receivedArgs []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}

	require.NoError(t, root.Execute([]string{"test", "arg1", "-flag"}))
	assert.Equal(t, []string{"arg1", "-flag"}, receivedArgs)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root, _ := newTestRoot(t)

	err := root.Execute([]string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestStringList(t *testing.T) {
	var l stringList
	require.NoError(t, l.Set("Admin"))
	require.NoError(t, l.Set("User, Member,"))
	assert.Equal(t, stringList{"Admin", "User", "Member"}, l)
	assert.Equal(t, "Admin,User,Member", l.String())
}
