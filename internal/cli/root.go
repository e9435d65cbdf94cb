// Package cli implements the smartcapture command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-smartcapture/internal/config"
	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/debug"
)

// Root carries state shared by every subcommand once flags are parsed.
type Root struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root Cobra command
func NewRootCmd() *cobra.Command {
	root := &Root{}

	rootCmd := &cobra.Command{
		Use:   "smartcapture",
		Short: "Smart document and photo capture from a live camera",
		Long: `smartcapture watches a camera, finds the document or photo in view, waits
until it is sharp and steady, and captures a perspective-corrected image.
The same detector and rectifier also run over still images and folders.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&root.configPath, "config", "c", "", "config file (default $"+config.EnvConfig+" or "+config.DefaultPath+")")
	flags.StringVar(&root.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config file")
	flags.BoolVar(&debug.Enabled, "debug", false, "enable verbose debug output")
	flags.BoolVar(&debug.Ticks, "debug-ticks", false, "trace every pipeline tick (very verbose)")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newDetectCmd(root))
	rootCmd.AddCommand(newRectifyCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newJournalCmd(root))

	return rootCmd
}

func (r *Root) init() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(r.logLevel)
	}
	if debug.Enabled {
		cfg.Logging.Level = "debug"
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}

	log.Init(cfg.Logging.Level)
	r.cfg = cfg
	r.logger = log.Component("cli")
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
