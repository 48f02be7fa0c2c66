package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinicops/secobs/internal/app"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		Long:  "Walks every audit record in id order and reports entries whose link to their predecessor does not match.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Audit.Verify(cmd.Context())
				if err != nil {
					return fmt.Errorf("verifying audit chain: %w", err)
				}
				if err := printJSON(result); err != nil {
					return err
				}
				if !result.IsValid {
					return fmt.Errorf("%d audit entries failed verification", len(result.TamperedLogs))
				}
				return nil
			})
		},
	}
}

func newImmutabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "immutability",
		Short: "Inspect or install the audit_logs append-only guard",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show whether update and delete protection are active",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error {
					return printJSON(a.Audit.ImmutabilityStatus(cmd.Context()))
				})
			},
		},
		&cobra.Command{
			Use:   "install",
			Short: "Install the append-only triggers (idempotent)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(a *app.App) error {
					if err := a.Audit.InstallImmutability(cmd.Context()); err != nil {
						return fmt.Errorf("installing immutability guard: %w", err)
					}
					return printJSON(a.Audit.ImmutabilityStatus(cmd.Context()))
				})
			},
		},
	)
	return cmd
}
