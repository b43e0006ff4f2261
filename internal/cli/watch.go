package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"automacro/internal/hal"
)

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <graph.yaml>",
		Short: "Run a decision graph until it reaches a final state",
		Long: `Load a decision graph, then every --interval look for its templates on
screen, pick the highest priority rule whose condition holds, perform its
action and follow the first transition whose condition holds. Stops at a
final state or on Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, true, true, func(a *app) error {
				err := a.ctl.Watch(ctx, args[0], interval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return wrap("watching", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reached final state.")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between decisions (default: engine default delay)")
	return cmd
}

func newHealthCommand(opts *RootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check every input and screen service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, false, false, func(a *app) error {
				res := a.ctl.Health(ctx, timeout)
				if err := opts.printer(cmd).print(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s (%s)\n", res.Platform, res.Status, res.State)
					fmt.Fprintln(w, "SERVICE\tSTATUS\tLATENCY\tERROR")
					for _, s := range res.Services {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Status, s.Latency.Round(time.Microsecond), s.Error)
					}
				}); err != nil {
					return err
				}
				if res.Status != hal.Healthy {
					return NewExitError(ExitFailure, "hal is "+res.Status.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", hal.DefaultHealthTimeout, "per-service check timeout")
	return cmd
}
