package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"certnotify/internal/app"
)

// withTools opens the one-shot tools around fn and prints its text to stdout.
func withTools(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, t *app.Tools) (string, error)) (err error) {
	t, err := app.OpenTools(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, t.Close()) }()

	out, err := fn(cmd.Context(), t)
	if out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return err
}

func newInitCmd(cfgPath *string) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the certificate table",
		Long: `Create the certificate table if it does not exist.

Examples:
  # Prepare a fresh database
  certnotify init

  # Start over, dropping every registered domain
  certnotify init --drop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				return t.Runner.Init(ctx, drop)
			})
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop existing data first")
	return cmd
}

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				return t.Runner.List(ctx)
			})
		},
	}
}

func newShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show DOMAIN",
		Short: "Show the stored certificate of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				return t.Runner.Show(ctx, args[0])
			})
		},
	}
}

func newAddCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add DOMAIN",
		Short: "Register a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				return t.Runner.Add(ctx, args[0])
			})
		},
	}
}

func newDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "delete DOMAIN",
		Aliases: []string{"rm"},
		Short:   "Unregister a domain",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				return t.Runner.Delete(ctx, args[0])
			})
		},
	}
}

func newScanCmd(cfgPath *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "scan [DOMAIN]",
		Short: "Scan one registered domain, or all of them with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				if all {
					return t.Runner.ScanAll(ctx)
				}
				return t.Runner.Scan(ctx, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "scan every registered domain")
	return cmd
}

func newReportCmd(cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Post the expiry report once",
		Long: `Build the expiry report and post it to telegram.report_chat.

Examples:
  # Print the messages that would be posted
  certnotify report --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTools(cmd, *cfgPath, func(ctx context.Context, t *app.Tools) (string, error) {
				poster := t.ConsolePoster(cmd.OutOrStdout())
				if !dryRun {
					var err error
					if poster, err = t.TelegramPoster(); err != nil {
						return "", err
					}
				}
				sum, err := t.Report(ctx, poster)
				if sum.Sections == 0 && err == nil {
					return "Nothing to report.", nil
				}
				return "", err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report to stdout instead of posting it")
	return cmd
}
