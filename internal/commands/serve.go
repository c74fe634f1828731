package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/app"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		configPath string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on a schedule and process operator commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, interval)
		},
	}
	configFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (defaults to cycle.interval)")
	return cmd
}

func runServe(ctx context.Context, configPath string, interval time.Duration) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, configPath, logger, func(ctx context.Context, a *app.App) error {
		if interval <= 0 {
			interval = a.Settings.Interval
		}
		color.Cyan("runwarden serving: cycle every %s", interval)
		if err := a.Supervisor.Serve(ctx, interval); err != nil {
			return err
		}
		color.Green("runwarden stopped gracefully")
		return nil
	})
}
