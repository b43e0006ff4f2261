package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"automacro/internal/api"
	"automacro/internal/autostart"
	"automacro/internal/config"
	"automacro/internal/tray"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var noTray bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run in the background with hotkeys, tray, API and event sinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, true, true, func(a *app) error {
				cfg := a.cfg.Get()

				if a.mqtt != nil {
					a.mqtt.OnCommand(a.ctl.Handle)
				}
				if cfg.API.Enabled {
					srv := api.NewServer(cfg.API, a.ctl, a.logger)
					a.bus.Subscribe(srv.Hub())
					if err := srv.Start(ctx); err != nil {
						return wrap("starting api", err)
					}
					defer srv.Close()
				}
				if cfg.General.StartOnLogin && !autostart.IsEnabled(config.AppName) {
					e, err := autostartEntry(opts)
					if err == nil {
						err = autostart.Enable(e)
					}
					if err != nil {
						a.logger.Warn("registering login item failed", "error", err)
					}
				}
				a.logger.Info("serving", "platform", a.ctl.HAL().Platform(), "hotkeys", len(a.ctl.Status().Hotkeys))

				if noTray || a.headless() || !cfg.General.Tray {
					<-ctx.Done()
					return nil
				}

				t := tray.New("automacro", "automacro", stop)
				menu := tray.Bind(t, a.ctl, t.Stop)
				a.ctl.SetOnChange(menu.Refresh)
				go func() {
					<-ctx.Done()
					t.Stop()
				}()
				t.Run()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noTray, "no-tray", false, "do not show the tray icon")
	return cmd
}

func newAutostartCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start automacro serve on login",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Register the login item",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := autostartEntry(opts)
				if err != nil {
					return wrap("autostart", err)
				}
				if err := autostart.Enable(e); err != nil {
					return wrap("enabling autostart", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Autostart enabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Remove the login item",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := autostart.Disable(config.AppName); err != nil {
					return wrap("disabling autostart", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Autostart disabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the login item exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				on := autostart.IsEnabled(config.AppName)
				return opts.printer(cmd).print(map[string]bool{"enabled": on}, func(w io.Writer) {
					if on {
						fmt.Fprintln(w, "Autostart is enabled.")
					} else {
						fmt.Fprintln(w, "Autostart is disabled.")
					}
				})
			},
		},
	)
	return cmd
}

// autostartEntry runs serve with the same config and headless flags as the
// current invocation.
func autostartEntry(opts *RootOptions) (autostart.Entry, error) {
	args := []string{"serve"}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}
	if opts.Headless {
		args = append(args, "--headless")
	}
	return autostart.Current(config.AppName, args...)
}

func newVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{"version": opts.Version, "go": runtime.Version(), "platform": runtime.GOOS + "/" + runtime.GOARCH}
			return opts.printer(cmd).print(info, func(w io.Writer) {
				fmt.Fprintf(w, "automacro %s (%s, %s)\n", opts.Version, info["go"], info["platform"])
			})
		},
	}
}
