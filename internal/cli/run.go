package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/pkg/scan"
	"github.com/teslashibe/go-smartcapture/pkg/web"
)

func newRunCmd(root *Root) *cobra.Command {
	var (
		device      string
		preset      string
		port        string
		noDashboard bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live scanner with the web dashboard",
		Long: `Opens the camera, starts the detection loop and serves the dashboard.
Captures are triggered with POST /api/capture and uploaded when an upload
target is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if device != "" {
				cfg.Camera.Device = device
			}
			if port != "" {
				cfg.Dashboard.Port = port
			}
			if preset != "" {
				p := scan.GetPreset(preset)
				if p == nil {
					return errors.New("unknown scan preset " + preset)
				}
				cfg.Scan = *p
			}
			return root.run(cmd.Context(), !noDashboard && cfg.Dashboard.Enabled)
		},
	}

	cmd.Flags().StringVar(&device, "camera", "", "camera index, video URL, ws:// JPEG feed or still image")
	cmd.Flags().StringVar(&preset, "preset", "", "scan preset (default|documents|photos|lowlight|fast)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "dashboard port")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "run without the web dashboard")

	return cmd
}

func (r *Root) run(ctx context.Context, dashboard bool) error {
	cfg := r.cfg

	src, camMgr, err := openSource(ctx, cfg.Camera)
	if err != nil {
		return err
	}
	defer closeSource(src)

	opts := []scan.Option{}
	uploader, err := newUploader(cfg.Upload)
	if err != nil {
		return err
	}
	if uploader != nil {
		opts = append(opts, scan.WithUploader(uploader))
	}
	store, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()
	if store != nil {
		opts = append(opts, scan.WithRecorder(store))
	}

	sched, err := scan.New(cfg.Scan, src, opts...)
	if err != nil {
		return err
	}
	defer sched.Close()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("scanner started",
		"camera", cfg.Camera.Device,
		"tick", cfg.Scan.TickInterval(),
		"upload", uploader != nil,
		"journal", store != nil,
	)

	if !dashboard {
		<-ctx.Done()
		return nil
	}

	webOpts := []web.Option{web.WithCamera(camMgr)}
	if store != nil {
		webOpts = append(webOpts, web.WithJournal(store))
	}
	if cfg.Dashboard.StaticDir != "" {
		webOpts = append(webOpts, web.WithStatic(cfg.Dashboard.StaticDir))
	}
	return web.NewServer(cfg.Dashboard.Port, sched, webOpts...).Start(ctx)
}
