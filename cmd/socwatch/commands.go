package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socwatch/internal/app"
	"socwatch/internal/config"
	"socwatch/internal/logging"
)

const defaultTimeout = 2 * time.Minute

type rootOptions struct {
	configFile string
	outputJSON bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "socwatch",
		Short:         "Detect security incidents in log streams and track them to closure",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (defaults to $SOCWATCH_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newDetectCmd(opts))
	root.AddCommand(newEscalateCmd(opts))
	root.AddCommand(newAllocateCmd(opts))
	root.AddCommand(newIOCsCmd(opts))
	return root
}

// withApp loads configuration, builds the application and hands it to fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", "err", err)
		}
	}()
	return fn(ctx, a)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the detection and escalation schedulers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass over the log directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.RunDir(ctx)
				if err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				for _, id := range res.Admitted {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newEscalateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "escalate",
		Short: "Run one escalation pass over open incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Escalator.RunPass(ctx)
				if err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evaluated=%d escalated=%d failed=%d\n", res.Evaluated, res.Escalated, res.Failed)
				return nil
			})
		},
	}
}

func newAllocateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "allocate",
		Short: "Allocate and print one incident id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
				id, err := a.Allocator.Allocate(ctx)
				if err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{"incident_id": id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newIOCsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "iocs",
		Short: "Print the indicators of compromise found in the log directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
				iocs, err := a.Pipeline.IOCs(ctx)
				if err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), iocs)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "attacker_ips: %s\n", strings.Join(iocs.AttackerIPs, ", "))
				fmt.Fprintf(out, "compromised_users: %s\n", strings.Join(iocs.CompromisedUsers, ", "))
				fmt.Fprintf(out, "targets: %s\n", strings.Join(iocs.Targets, ", "))
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
