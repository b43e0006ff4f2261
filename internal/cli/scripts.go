package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"automacro/internal/errs"
	"automacro/internal/store"
)

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				list, err := a.scripts.List(cmd.Context())
				if err != nil {
					return wrap("listing scripts", err)
				}
				return opts.printer(cmd).print(list, func(w io.Writer) {
					if len(list) == 0 {
						fmt.Fprintln(w, "No scripts.")
						return
					}
					fmt.Fprintln(w, "ID\tNAME\tACTIONS\tDURATION\tVERSION\tUPDATED")
					for _, s := range list {
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
							s.ID, s.Name, s.Actions, s.Duration, s.Version, s.UpdatedAt.Local().Format(time.DateTime))
					}
				})
			})
		},
	}
}

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <script-id>",
		Short: "Print a script and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				sc, err := a.scripts.Load(cmd.Context(), args[0])
				if err != nil {
					return wrap("loading script", err)
				}
				return opts.printer(cmd).print(sc, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s) v%d, %d actions, %s\n", sc.Name, sc.ID, sc.Version, len(sc.Actions), sc.Duration())
					for i, act := range sc.Actions {
						fmt.Fprintf(w, "%d\t+%dms\t%s\n", i, act.DelayMillis, act.String())
					}
				})
			})
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <script-id>",
		Short: "Delete a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				if err := a.scripts.Delete(cmd.Context(), args[0]); err != nil {
					return wrap("deleting script", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newRunsCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <script-id>",
		Short: "Show playback history of a script (sqlite storage only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				rec, ok := a.scripts.(store.RunRecorder)
				if !ok {
					return wrap("listing runs", errs.Invalid("storage driver keeps no run history"))
				}
				runs, err := rec.Runs(cmd.Context(), args[0], limit)
				if err != nil {
					return wrap("listing runs", err)
				}
				return opts.printer(cmd).print(runs, func(w io.Writer) {
					fmt.Fprintln(w, "RUN\tSTATE\tEXECUTED\tFAILED\tITERATIONS\tSTARTED\tERROR")
					for _, r := range runs {
						fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
							r.ID, r.State, r.Executed, r.Failed, r.Iterations, r.StartedAt.Local().Format(time.DateTime), r.Error)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}
