package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screen-ghost/src/bootstrap"
	"screen-ghost/src/bridge"
	"screen-ghost/src/capture"
	"screen-ghost/src/events"
	"screen-ghost/src/hotkey"
	"screen-ghost/src/monitor"
	"screen-ghost/src/overlay"
	"screen-ghost/src/profiles"
	"screen-ghost/src/scheduler"
	"screen-ghost/src/tray"
)

const shutdownGrace = 5 * time.Second

type runOptions struct {
	monitorID int
	withTray  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the masking pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), root, *opts)
		},
	}
	cmd.Flags().IntVar(&opts.monitorID, "monitor", 0, "Display to mask at startup (-1 starts idle)")
	cmd.Flags().BoolVar(&opts.withTray, "tray", false, "Show the system tray menu")
	return cmd
}

func runPipeline(ctx context.Context, root *rootOptions, opts runOptions) error {
	// DPI awareness must be set before any display metric is read.
	monitor.EnableDPIAwareness()

	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	bus := events.NewBus()
	defer bus.Close()
	stopMirror := mirrorEvents(bus, logger)
	defer stopMirror()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	boot := bootstrap.New(bootstrap.Options{
		Dir:          cfg.System.RuntimeDir,
		ProviderPref: cfg.Face.Recognition.Provider,
		Bus:          bus,
		Logger:       logger,
	})
	rt, err := boot.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("detection runtime: %w", err)
	}

	// Target profiles decide the worker mode at handshake.
	targetsDir := resolveTargetsDir(cfg.Face.Recognition.TargetsDir)
	lib, err := profiles.Scan(targetsDir)
	if err != nil {
		return err
	}
	if lib.Ready() {
		logger.Info("Masking recognized targets only",
			zap.Int("identities", len(lib.People)),
			zap.Int("photos", lib.TotalPhotos()))
	} else {
		logger.Info("No target profiles, masking every face",
			zap.String("dir", targetsDir))
	}

	br := bridge.New(cfg.Face, rt, bridge.Options{
		Bus:        bus,
		Logger:     logger,
		TargetsDir: targetsDir,
	})
	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer br.Stop()

	// The overlay bind doubles as the single-instance guard.
	hub := overlay.NewHub(logger)
	pub := overlay.NewPublisher(cfg.Monitoring, hub, logger)
	srv := overlay.NewServer(cfg.Overlay, pub, hub, logger)
	if err := srv.Start(); err != nil {
		if errors.Is(err, overlay.ErrAlreadyRunning) {
			return fmt.Errorf("%s is taken, another instance is already running", cfg.Overlay.Addr)
		}
		return err
	}
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}()
	logger.Info("Overlay endpoint listening", zap.String("addr", srv.Addr()))

	reg := monitor.NewRegistry()
	if opts.monitorID >= 0 {
		m, err := reg.Select(opts.monitorID)
		if err != nil {
			return fmt.Errorf("select display %d: %w", opts.monitorID, err)
		}
		logger.Info("Masking display", zap.Stringer("monitor", m))
	} else {
		logger.Info("Starting idle, pick a display from the tray")
	}

	sched := scheduler.New(reg, scheduler.CaptureFunc(capture.Grab), br, pub, scheduler.Options{
		Interval:      cfg.Interval(),
		DetectTimeout: cfg.DetectTimeout(),
		CaptureScale:  cfg.Monitoring.CaptureScale,
		ImageScale:    cfg.Face.Detection.ImageScale,
		Bus:           bus,
		Logger:        logger,
	})

	if combo := cfg.System.PauseHotkey; combo != "" {
		stopHotkey, herr := hotkey.Listen(combo, logger, func() {
			if sched.Paused() {
				sched.Resume()
			} else {
				sched.Pause()
			}
		})
		if herr != nil {
			logger.Warn("Pause hotkey disabled", zap.String("combo", combo), zap.Error(herr))
		} else {
			defer stopHotkey()
		}
	}

	if opts.withTray {
		runErr := make(chan error, 1)
		go func() {
			runErr <- sched.Run(ctx)
			tray.Quit()
		}()
		// Blocks this goroutine until Quit; some platforms require the
		// tray to own the main thread.
		tray.Run(tray.Options{
			Registry: reg,
			Loop:     sched,
			Bus:      bus,
			Logger:   logger,
			OnQuit:   cancel,
		})
		err = <-runErr
	} else {
		err = sched.Run(ctx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Pipeline stopped")
	return nil
}

// resolveTargetsDir makes the configured path absolute so the worker sees
// the same directory regardless of working directories.
func resolveTargetsDir(dir string) string {
	if dir == "" {
		return ""
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// mirrorEvents forwards bus events into the structured log so headless
// runs still surface worker and install progress.
func mirrorEvents(bus *events.Bus, logger *zap.Logger) func() {
	token, ch := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fields := []zap.Field{zap.String("stage", ev.Stage)}
			if ev.Err != nil {
				fields = append(fields, zap.Error(ev.Err))
			}
			switch ev.Kind {
			case events.KindError:
				logger.Warn(ev.Message, fields...)
			case events.KindProgress:
				logger.Debug(ev.Message, fields...)
			default:
				logger.Info(ev.Message, fields...)
			}
		}
	}()
	return func() {
		bus.Unsubscribe(token)
		<-done
	}
}
