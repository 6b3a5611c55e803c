// Package cli assembles the screen-ghost command tree.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screen-ghost/src/config"
	"screen-ghost/src/logutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFile    string
}

// Execute runs the command tree against os.Args with SIGINT/SIGTERM
// wired to context cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runWithArgs(ctx, os.Args)
}

func runWithArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"screen-ghost"}
	}
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screen-ghost",
		Short: "Mask faces on a live display",
		Long: "screen-ghost continuously captures one display, finds faces with an\n" +
			"out-of-process detection worker, and publishes masking rectangles to an\n" +
			"always-on-top overlay renderer.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.toml (default: search order)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file as well as stderr")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newMonitorsCmd())
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newTargetsCmd(opts))
	return cmd
}

// loadConfig applies the persistent flag overrides and builds the logger.
func loadConfig(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		Path:             opts.configPath,
		LogLevelOverride: opts.logLevel,
	})
	if err != nil {
		return nil, nil, err
	}
	if opts.logFile != "" {
		cfg.System.LogFile = opts.logFile
	}

	logger, err := logutil.Setup(cfg.System.LogLevel, cfg.System.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
