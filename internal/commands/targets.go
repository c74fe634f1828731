package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/command"
	"github.com/dwsmith1983/runwarden/internal/config"
	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// NewTargetsCmd creates the targets command group.
func NewTargetsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage monitored workflows",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.FileName, "path to the configuration file")

	cmd.AddCommand(
		newTargetsAddCmd(&configPath),
		newTargetsListCmd(&configPath),
		newTargetsToggleCmd(&configPath, "enable", true),
		newTargetsToggleCmd(&configPath, "disable", false),
	)
	return cmd
}

func newTargetsAddCmd(configPath *string) *cobra.Command {
	var (
		label  string
		update bool
	)
	cmd := &cobra.Command{
		Use:   "add <repo-url> <account> <channel>",
		Short: "Register a repository or workflow URL",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, workflow, err := command.ParseRepoURL(args[0])
			if err != nil {
				return err
			}
			if label == "" {
				label = project[strings.LastIndex(project, "/")+1:]
			}
			t := types.Target{
				AccountID:  args[1],
				ProjectID:  project,
				WorkflowID: workflow,
				Label:      label,
				Channel:    args[2],
				RepoURL:    args[0],
			}
			return withRegistry(cmd.Context(), *configPath, func(ctx context.Context, reg *registry.Registry) error {
				id, err := reg.UpsertTarget(ctx, t, registry.UpsertOptions{Update: update})
				if err != nil {
					return err
				}
				color.Green("  ✓ %s registered as %s", t.Key(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "display name (defaults to the repository name)")
	cmd.Flags().BoolVar(&update, "update", false, "change label and channel of an existing target")
	return cmd
}

func newTargetsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), *configPath, func(ctx context.Context, reg *registry.Registry) error {
				targets, err := reg.ListTargets(ctx)
				if err != nil {
					return err
				}
				if len(targets) == 0 {
					fmt.Println("No targets registered.")
					return nil
				}
				return printTargets(ctx, os.Stdout, reg, targets)
			})
		},
	}
}

func printTargets(ctx context.Context, out io.Writer, reg *registry.Registry, targets []types.Target) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tLABEL\tCHANNEL\tSTATE\tLAST RUN")
	for _, t := range targets {
		state := color.GreenString("enabled")
		if !t.Enabled {
			state = color.YellowString("disabled")
		}
		last := "-"
		obs, err := reg.LatestObservation(ctx, t.ID)
		if err != nil {
			return err
		}
		if obs != nil {
			last = fmt.Sprintf("%s %s", obs.RunID, statusString(obs.Status))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Key(), t.Label, t.Channel, state, last)
	}
	return w.Flush()
}

func statusString(s types.RunStatus) string {
	switch s {
	case types.RunSuccess:
		return color.GreenString(string(s))
	case types.RunFailure:
		return color.RedString(string(s))
	case types.RunInProgress:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

func newTargetsToggleCmd(configPath *string, verb string, enabled bool) *cobra.Command {
	short := "Include a target in future cycles"
	if !enabled {
		short = "Exclude a target from future cycles"
	}
	return &cobra.Command{
		Use:   verb + " <target-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), *configPath, func(ctx context.Context, reg *registry.Registry) error {
				if err := reg.SetEnabled(ctx, args[0], enabled); err != nil {
					return err
				}
				color.Green("  ✓ %s %sd", args[0], verb)
				return nil
			})
		},
	}
}
