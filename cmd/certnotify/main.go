// Command certnotify watches TLS certificate expiry for a list of domains
// and reports it to Telegram.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"certnotify/internal/app"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "certnotify",
		Short: "TLS certificate expiry notifier",
		Long: `certnotify keeps a registry of domains, scans their TLS certificates and
posts an expiry report to a Telegram chat. Operators can manage the registry
from chat with /scanner or locally with the subcommands below.`,
		Version:       version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newInitCmd(&cfgPath),
		newListCmd(&cfgPath),
		newShowCmd(&cfgPath),
		newAddCmd(&cfgPath),
		newDeleteCmd(&cfgPath),
		newScanCmd(&cfgPath),
		newReportCmd(&cfgPath),
	)
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the notifier and the scheduled report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.NewApp(ctx, *cfgPath)
			if err != nil {
				return fmt.Errorf("fatal: %w", err)
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("fatal start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}
