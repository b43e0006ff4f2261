package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"automacro/internal/controller"
	"automacro/internal/playback"
)

func newRecordCommand(opts *RootOptions) *cobra.Command {
	var (
		name     string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record keyboard and mouse input into a new script",
		Long: `Record input until --duration elapses or Ctrl+C is pressed, then save
the script. The configured hotkeys are never recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, false, false, func(a *app) error {
				sess, err := a.ctl.StartRecording(name)
				if err != nil {
					return wrap("starting recording", err)
				}
				a.logger.Info("recording", "session", sess.ID(), "duration", duration)
				if duration > 0 {
					t := time.NewTimer(duration)
					defer t.Stop()
					select {
					case <-t.C:
					case <-ctx.Done():
					}
				} else {
					<-ctx.Done()
				}
				sc, err := a.ctl.StopRecording(context.WithoutCancel(ctx))
				if err != nil {
					if sc != nil {
						// The process is about to exit; hand the actions to the user.
						enc := json.NewEncoder(cmd.ErrOrStderr())
						enc.SetIndent("", "  ")
						_ = enc.Encode(sc)
					}
					return wrap("saving recording", err)
				}
				res := controller.RecordResult{ScriptID: sc.ID, Actions: len(sc.Actions)}
				return opts.printer(cmd).print(res, func(w io.Writer) {
					fmt.Fprintf(w, "Saved %q as %s (%d actions, %s)\n", sc.Name, sc.ID, len(sc.Actions), sc.Duration())
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "script name (default: timestamp)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: until Ctrl+C)")
	return cmd
}

type playOutput struct {
	PlaybackID string `json:"playback_id"`
	ScriptID   string `json:"script_id"`
	State      string `json:"state"`
	Executed   int    `json:"executed"`
	Failed     int    `json:"failed"`
	Iterations int    `json:"iterations"`
	Elapsed    string `json:"elapsed"`
	Error      string `json:"error,omitempty"`
}

func newPlayCommand(opts *RootOptions) *cobra.Command {
	var (
		speed  float64
		repeat int
		loop   bool
		graph  string
	)
	cmd := &cobra.Command{
		Use:   "play <script-id>",
		Short: "Replay a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, true, false, func(a *app) error {
				req := controller.PlayRequest{Speed: speed, Repeat: repeat, Graph: graph}
				if cmd.Flags().Changed("loop") {
					req.Loop = &loop
				}
				h, err := a.ctl.Play(ctx, args[0], req)
				if err != nil {
					return wrap("starting playback", err)
				}
				select {
				case <-h.Done():
				case <-ctx.Done():
					h.Stop()
					<-h.Done()
				}
				res := h.Result()
				out := playOutput{
					PlaybackID: h.ID,
					ScriptID:   h.Script.ID,
					State:      res.State.String(),
					Executed:   res.Executed,
					Failed:     res.Failed,
					Iterations: res.Iterations,
					Elapsed:    res.Finished.Sub(res.Started).Round(time.Millisecond).String(),
				}
				if res.Err != nil {
					out.Error = res.Err.Error()
				}
				if err := opts.printer(cmd).print(out, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s, %d executed, %d failed, %d iterations in %s\n",
						h.Script.Name, out.State, out.Executed, out.Failed, out.Iterations, out.Elapsed)
				}); err != nil {
					return err
				}
				if res.State == playback.Failed {
					return WrapExitError(ExitFailure, "playback failed", res.Err)
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 0, "speed multiplier (default from config)")
	cmd.Flags().IntVar(&repeat, "repeat", 0, "play this many times (0: script setting)")
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat until stopped")
	cmd.Flags().StringVar(&graph, "graph", "", "decision graph consulted after each action")
	return cmd
}
