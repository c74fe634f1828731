package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/runwarden/internal/registry"
	"github.com/dwsmith1983/runwarden/pkg/types"
)

// NewAttemptsCmd creates the attempts command.
func NewAttemptsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "attempts <signature>",
		Short: "Show a failure signature and its remediation attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig := types.FailureSignature(args[0])
			return withRegistry(cmd.Context(), configPath, func(ctx context.Context, reg *registry.Registry) error {
				return showAttempts(ctx, reg, sig)
			})
		},
	}
	configFlag(cmd, &configPath)
	return cmd
}

func showAttempts(ctx context.Context, reg *registry.Registry, sig types.FailureSignature) error {
	state, err := reg.Signature(ctx, sig)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("signature %s: %w", sig, types.ErrNotFound)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Signature: %s\n", state.Signature)
	fmt.Printf("  Target:     %s\n", state.TargetID)
	fmt.Printf("  Category:   %s\n", state.Category)
	fmt.Printf("  Status:     %s\n", state.Status)
	fmt.Printf("  Generation: %d\n", state.Generation)
	if state.EscalatedAt != nil {
		fmt.Printf("  Escalated:  %s\n", state.EscalatedAt.Format(time.RFC3339))
	}

	attempts, err := reg.AttemptsFor(ctx, sig)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("\n  No attempts in the current generation.")
		return nil
	}
	fmt.Println()
	_, _ = bold.Println("  Attempts:")
	for _, a := range attempts {
		outcome := string(a.Outcome)
		switch a.Outcome {
		case types.AttemptSucceeded, types.AttemptPending:
			outcome = color.GreenString(outcome)
		case types.AttemptFailed, types.AttemptExhausted:
			outcome = color.RedString(outcome)
		}
		fmt.Printf("    #%d  run %s  %s  %s\n", a.AttemptNumber, a.RunID, outcome, a.CreatedAt.Format(time.RFC3339))
		if a.Error != "" {
			fmt.Printf("        %s\n", a.Error)
		}
	}
	return nil
}
