// Package cli is the automacro command line: record and replay scripts, find
// images on screen, run decision graphs and serve the control API.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Headless   bool
	Verbose    bool
	Format     string // "json" | "text"
	Version    string
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "automacro",
		Short: "Record, replay and automate keyboard and mouse input",
		Long: `automacro records keyboard and mouse input into scripts, replays them
with adjustable speed and repetition, finds template images on screen and
drives decision graphs that react to what is visible.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: per-user config dir)")
	cmd.PersistentFlags().BoolVar(&opts.Headless, "headless", false, "use the in-memory input backend instead of the desktop")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newRecordCommand(opts),
		newPlayCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newDeleteCommand(opts),
		newRunsCommand(opts),
		newFindCommand(opts),
		newTemplateCommand(opts),
		newWatchCommand(opts),
		newHealthCommand(opts),
		newServeCommand(opts),
		newAutostartCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

// withStore runs fn with an app whose script and template stores are open.
func withStore(opts *RootOptions, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	if err := a.openStore(); err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withEngine runs fn with a started controller.
func withEngine(ctx context.Context, opts *RootOptions, hotkeys, remote bool, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openEngine(ctx, hotkeys, remote); err != nil {
		return err
	}
	return fn(a)
}
