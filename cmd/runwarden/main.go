package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "runwarden",
		Short: "Failure triage and auto-remediation for CI workflows",
		Long: `Runwarden watches the latest workflow run of every registered target.
Failures are classified from their logs. Transient ones are rerun within a
bounded retry budget; the rest are escalated to an operator once, in the
cycle digest.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewRunCmd(),
		commands.NewServeCmd(),
		commands.NewTargetsCmd(),
		commands.NewInboxCmd(),
		commands.NewAttemptsCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
