package cli

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"automacro/internal/errs"
	"automacro/internal/store"
	"automacro/internal/vision"
)

func newFindCommand(opts *RootOptions) *cobra.Command {
	var (
		threshold float64
		wait      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "find <template-id>",
		Short: "Look for a stored template image on screen",
		Long: `Search the screen for a template added with "template add". Exits 1
when the template is not visible. With --wait it polls until it appears.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withEngine(ctx, opts, false, false, func(a *app) error {
				var m vision.MatchResult
				if wait > 0 {
					found, err := a.ctl.WaitForImage(ctx, args[0], wait)
					if err != nil {
						return wrap("finding image", err)
					}
					if found != nil {
						m = *found
					}
				} else {
					var err error
					if m, err = a.ctl.FindImage(ctx, args[0], threshold); err != nil {
						return wrap("finding image", err)
					}
				}
				out := map[string]any{"template": args[0], "found": m.IsMatch, "confidence": m.Confidence}
				r := m.Region
				if m.IsMatch {
					out["x"], out["y"], out["width"], out["height"] = r.Min.X, r.Min.Y, r.Dx(), r.Dy()
				}
				if err := opts.printer(cmd).print(out, func(wr io.Writer) {
					if m.IsMatch {
						fmt.Fprintf(wr, "%s found at %d,%d (%dx%d), confidence %.3f\n", args[0], r.Min.X, r.Min.Y, r.Dx(), r.Dy(), m.Confidence)
					} else {
						fmt.Fprintf(wr, "%s not found (best confidence %.3f)\n", args[0], m.Confidence)
					}
				}); err != nil {
					return err
				}
				if !m.IsMatch {
					return NewExitError(ExitFailure, "template not visible")
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum confidence (default: template or config)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until the template appears or this long passes")
	return cmd
}

func newTemplateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage template images used by find, watch and decision graphs",
	}

	var (
		threshold   float64
		description string
		region      []int
	)
	add := &cobra.Command{
		Use:   "add <template-id> <image-file>",
		Short: "Store a PNG or JPEG as a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := decodeImage(args[1])
			if err != nil {
				return wrap("reading image", err)
			}
			meta := store.TemplateMeta{ID: args[0], Description: description, Threshold: threshold}
			switch len(region) {
			case 0:
			case 4:
				meta.Region = &store.Region{X: region[0], Y: region[1], W: region[2], H: region[3]}
			default:
				return wrap("adding template", errs.Invalid("--region needs x,y,w,h"))
			}
			return withStore(opts, func(a *app) error {
				if err := a.templates.Save(cmd.Context(), meta, img); err != nil {
					return wrap("adding template", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added template %s (%dx%d)\n", meta.ID, img.Bounds().Dx(), img.Bounds().Dy())
				return nil
			})
		},
	}
	add.Flags().Float64Var(&threshold, "threshold", 0, "default confidence for this template")
	add.Flags().StringVar(&description, "description", "", "free text")
	add.Flags().IntSliceVar(&region, "region", nil, "restrict searches to x,y,w,h")

	list := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				metas, err := a.templates.List(cmd.Context())
				if err != nil {
					return wrap("listing templates", err)
				}
				return opts.printer(cmd).print(metas, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tSIZE\tTHRESHOLD\tDESCRIPTION")
					for _, m := range metas {
						fmt.Fprintf(w, "%s\t%dx%d\t%.2f\t%s\n", m.ID, m.Width, m.Height, m.Threshold, m.Description)
					}
				})
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(a *app) error {
				if err := a.templates.Delete(cmd.Context(), args[0]); err != nil {
					return wrap("deleting template", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errs.Invalid("%s: %v", path, err)
	}
	return img, nil
}
