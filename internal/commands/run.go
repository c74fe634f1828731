package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/app"
	"github.com/dwsmith1983/runwarden/internal/report"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitoring cycle and print the digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), configPath, verbose)
		},
	}
	configFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

func runCycle(ctx context.Context, configPath string, verbose bool) error {
	return withApp(ctx, configPath, textLogger(verbose), func(ctx context.Context, a *app.App) error {
		ctx, cancel := context.WithTimeout(ctx, a.Settings.Deadline+2*time.Minute)
		defer cancel()

		rep, err := a.Supervisor.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}

		fmt.Println(report.Render(*rep))
		fmt.Println()
		if rep.Healthy() {
			color.Green("All %d targets healthy", rep.Counts.Targets)
		} else {
			color.Yellow("%d of %d targets need attention", rep.Counts.Targets-rep.Counts.Healthy-rep.Counts.Resolved, rep.Counts.Targets)
		}
		return nil
	})
}
