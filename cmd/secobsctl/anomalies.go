package main

import (
	"github.com/spf13/cobra"

	"github.com/clinicops/secobs/internal/app"
	"github.com/clinicops/secobs/internal/domain"
)

func newAnomaliesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Review detected anomalies",
	}
	cmd.AddCommand(newAnomaliesListCmd(), newAnomaliesStatsCmd(), newAnomaliesSetStatusCmd())
	return cmd
}

func newAnomaliesListCmd() *cobra.Command {
	var (
		notified bool
		status   string
		severity string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open (or notified) anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.AnomalyFilter{View: domain.ViewOpen, Limit: limit}
			if notified {
				filter.View = domain.ViewNotified
			}
			if status != "" {
				s, err := domain.ParseAnomalyStatus(status)
				if err != nil {
					return err
				}
				filter.Status = &s
			}
			if severity != "" {
				s, err := domain.ParseAnomalySeverity(severity)
				if err != nil {
					return err
				}
				filter.Severity = &s
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				page, err := a.Anomalies.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return printJSON(page)
			})
		},
	}

	cmd.Flags().BoolVar(&notified, "notified", false, "List anomalies linked to a breach incident")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity")
	cmd.Flags().IntVarP(&limit, "limit", "l", domain.DefaultAnomalyLimit, "Maximum number of anomalies")
	return cmd
}

func newAnomaliesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print anomaly counts by status, severity and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				stats, err := a.Anomalies.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
}

func newAnomaliesSetStatusCmd() *cobra.Command {
	var reviewer int64

	cmd := &cobra.Command{
		Use:   "set-status <id> <new|reviewed|dismissed|escalated>",
		Short: "Change the review status of an anomaly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseID("anomaly id", args[0])
			if err != nil {
				return err
			}
			var reviewedBy *int64
			if reviewer > 0 {
				reviewedBy = &reviewer
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				finding, err := a.Anomalies.UpdateStatus(cmd.Context(), id, args[1], reviewedBy)
				if err != nil {
					return err
				}
				return printJSON(finding)
			})
		},
	}

	cmd.Flags().Int64Var(&reviewer, "reviewer", 0, "User id recorded as the reviewer")
	return cmd
}
