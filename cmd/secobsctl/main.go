// Package main provides secobsctl, the operator CLI for the security
// observability subsystem.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:           "secobsctl",
		Short:         "Operate the audit chain, behavioral baselines and anomaly review",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log at debug level")

	rootCmd.AddCommand(
		newVerifyCmd(),
		newImmutabilityCmd(),
		newBaselinesCmd(),
		newAnomaliesCmd(),
		newTokenCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}
