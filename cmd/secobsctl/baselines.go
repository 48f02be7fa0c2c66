package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinicops/secobs/internal/app"
	"github.com/clinicops/secobs/internal/domain"
)

func newBaselinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Compute and inspect behavioral baselines",
	}
	cmd.AddCommand(newBaselinesShowCmd(), newBaselinesCalculateCmd(), newBaselinesRecalculateCmd())
	return cmd
}

func newBaselinesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Print stored baselines for a user id or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := domain.ParseUserRef(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				baselines, err := a.Baselines.GetBaselines(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return printJSON(baselines)
			})
		},
	}
}

func newBaselinesCalculateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calculate <user> [location|time|access_pattern]",
		Short: "Recompute one or all baseline types for a user",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := domain.ParseUserRef(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if len(args) == 1 {
					baselines, err := a.Baselines.CalculateAll(cmd.Context(), ref)
					if err != nil {
						return err
					}
					return printJSON(baselines)
				}
				baseline, err := a.Baselines.Calculate(cmd.Context(), ref, domain.BaselineType(args[1]))
				if err != nil {
					return err
				}
				return printJSON(baseline)
			})
		},
	}
}

func newBaselinesRecalculateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "recalculate",
		Aliases: []string{"recalc"},
		Short:   "Run the full recalculation sweep now",
		Long:    "Runs the same sweep as the daily scheduler, honoring the shared lock when Redis is configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Scheduler.RunNow(cmd.Context())
				if err != nil {
					return fmt.Errorf("recalculating baselines: %w", err)
				}
				return printJSON(summary)
			})
		},
	}
}
