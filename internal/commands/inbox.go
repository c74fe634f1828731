package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/app"
)

// NewInboxCmd creates the inbox command.
func NewInboxCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Apply pending operator commands once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, textLogger(false), func(ctx context.Context, a *app.App) error {
				if a.Inbox == nil {
					return fmt.Errorf("no messaging transport configured")
				}
				n, err := a.Inbox.Poll(ctx)
				if err != nil {
					return err
				}
				color.Green("  ✓ %d command(s) applied", n)
				return nil
			})
		},
	}
	configFlag(cmd, &configPath)
	return cmd
}
