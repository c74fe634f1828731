package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter runwarden.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	return cmd
}

func runInit(dir string, force bool) error {
	bold := color.New(color.Bold)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(config.Sample), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	color.Green("  ✓ Wrote %s", path)

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Println("  export PAT_ACC1=<github token>")
	fmt.Println("  export OPENAI_API_KEY=<key> TELEGRAM_TOKEN=<bot token>")
	fmt.Println("  runwarden targets list")
	fmt.Println("  runwarden run")
	return nil
}
