package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/pkg/inbox"
)

func newDetectCmd(root *Root) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "detect <image>...",
		Short: "Report the document outline found in still images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc := inbox.NewProcessor(root.cfg.Scan, inbox.WithLogger(root.logger))
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")

			var failed int
			for _, path := range args {
				a, err := proc.Analyze(cmd.Context(), path)
				if err != nil {
					failed++
					root.logger.Error("detect failed", "path", path, "error", err)
					continue
				}
				if asJSON {
					if err := enc.Encode(a); err != nil {
						return err
					}
					continue
				}
				if a.Quad == nil {
					printf(out, "%s: no outline (%dx%d, sharpness %.0f)\n", path, a.Size.X, a.Size.Y, a.Focus.Sharpness)
					continue
				}
				printf(out, "%s: outline %.0f%% confidence, sharpness %.0f (%s)\n",
					path, a.Confidence*100, a.Focus.Sharpness, a.Focus.State)
				for i, p := range a.Quad {
					printf(out, "  %-12s %7.1f %7.1f\n", cornerName(i), p.X, p.Y)
				}
				if len(a.Regions) > 1 {
					printf(out, "  %d photo regions:\n", len(a.Regions))
					for i, r := range a.Regions {
						c := r.Quad.Centroid()
						printf(out, "  #%-2d %3.0f%% confidence, centre %.0f,%.0f\n", i+1, r.Confidence*100, c.X, c.Y)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func cornerName(i int) string {
	return [...]string{"top-left", "top-right", "bottom-right", "bottom-left"}[i]
}

func newRectifyCmd(root *Root) *cobra.Command {
	var (
		outDir   string
		doUpload bool
	)

	cmd := &cobra.Command{
		Use:   "rectify <image>...",
		Short: "Crop and straighten the document in still images",
		Long: `Detects the outline in each image and writes <name>_rectified.jpg next to it
(or into --out). A page holding several photos is split into
<name>_rectified_<n>.jpg, one per photo. Images without a usable outline are
reported and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, cleanup, err := root.processorOptions(doUpload, outDir)
			if err != nil {
				return err
			}
			defer cleanup()

			proc := inbox.NewProcessor(root.cfg.Scan, opts...)
			out := cmd.OutOrStdout()

			var errs []error
			for _, path := range args {
				res, err := proc.Process(cmd.Context(), path)
				if err != nil {
					errs = append(errs, err)
				}
				if res == nil {
					continue
				}
				for _, crop := range res.Crops {
					if crop.Rectified {
						printf(out, "✅ %s → %s (%dx%d)\n", path, crop.Output, crop.Width, crop.Height)
					} else {
						printf(out, "⚠️  %s: not rectified (%s)\n", path, crop.Fallback)
					}
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: next to each input)")
	cmd.Flags().BoolVar(&doUpload, "upload", false, "also upload every image to the configured target")
	return cmd
}
