// Package commands implements the CLI subcommands for the runwarden binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/app"
	"github.com/dwsmith1983/runwarden/internal/config"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// configFlag registers the shared --config flag on cmd.
func configFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", config.FileName, "path to the configuration file")
}

func loadConfig(path string) (*types.ProjectConfig, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// textLogger is used by interactive commands.
func textLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withRegistry opens the configured store and runs fn against it.
func withRegistry(ctx context.Context, configPath string, fn func(context.Context, *registry.Registry) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	reg, closeFn, err := app.OpenRegistry(ctx, cfg, textLogger(false))
	if err != nil {
		return err
	}
	defer func() { _ = closeFn(context.WithoutCancel(ctx)) }()
	return fn(ctx, reg)
}

// withApp builds every component and runs fn against them.
func withApp(ctx context.Context, configPath string, logger *slog.Logger, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, a)
}
