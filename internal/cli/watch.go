package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/pkg/inbox"
)

func newWatchCmd(root *Root) *cobra.Command {
	var (
		outDir   string
		backlog  bool
		doUpload bool
	)

	cmd := &cobra.Command{
		Use:   "watch [directory]",
		Short: "Rectify every scan dropped into a folder",
		Long: `Watches a folder (default: inbox.dir from the config) and processes each new
image once it has stopped changing. Rectified files are written as
<name>_rectified.jpg and never reprocessed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg.Inbox
			dir := cfg.Dir
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				return cmd.Usage()
			}
			if outDir == "" {
				outDir = cfg.OutputDir
			}

			opts, cleanup, err := root.processorOptions(doUpload, outDir)
			if err != nil {
				return err
			}
			defer cleanup()

			w := inbox.NewWatcher(dir, inbox.NewProcessor(root.cfg.Scan, opts...),
				inbox.WithSettle(time.Duration(cfg.SettleMs)*time.Millisecond),
				inbox.WithBacklog(backlog),
				inbox.WithWatchLogger(root.logger),
			)
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: the watched folder)")
	cmd.Flags().BoolVar(&backlog, "backlog", false, "also process images already in the folder")
	cmd.Flags().BoolVar(&doUpload, "upload", false, "upload every image to the configured target")
	return cmd
}
