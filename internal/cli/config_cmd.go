package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/internal/config"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, env and defaults merged)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cfg.Write(cmd.OutOrStdout())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultPath
			}
			expanded, err := config.ExpandUser(path)
			if err != nil {
				return err
			}
			if _, err := os.Stat(expanded); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", expanded)
			}
			if err := config.Default().Save(expanded); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "wrote %s\n", expanded)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "presets",
		Short: "List scan and camera presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			printf(out, "Scan presets:\n")
			for _, name := range scan.PresetNames() {
				p := scan.GetPreset(name)
				printf(out, "  %-10s tick %dms, focus %.0f, motion %.0f, stable after %d\n",
					name, p.TickIntervalMs, p.FocusThreshold, p.MotionThreshold, p.StabilityRequiredFrames)
			}
			printf(out, "Camera presets:\n")
			for _, name := range camera.PresetNames() {
				p := camera.GetPreset(name)
				printf(out, "  %-10s %dx%d @ %dfps\n", name, p.Width, p.Height, p.Framerate)
			}
			return nil
		},
	})

	return cmd
}
