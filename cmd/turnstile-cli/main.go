package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/turnstile/pkg/cli"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rt := &cli.Runtime{
		Config: cfg,
		Logger: observability.NewLogger(cfg.Observability.LogLevel, "text", os.Stderr),
		Out:    os.Stdout,
	}
	rootCmd := cli.NewRootCommand(rt)

	err = rootCmd.Execute(os.Args[1:])
	if closeErr := rt.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
