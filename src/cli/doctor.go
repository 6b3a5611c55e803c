package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"screen-ghost/src/bootstrap"
	"screen-ghost/src/events"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify or install the Python detection runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			bus := events.NewBus()
			defer bus.Close()

			boot := bootstrap.New(bootstrap.Options{
				Dir:          cfg.System.RuntimeDir,
				ProviderPref: cfg.Face.Recognition.Provider,
				Bus:          bus,
				Logger:       logger,
			})

			out := cmd.OutOrStdout()
			if checkOnly {
				rt, ok := boot.Verify(cmd.Context())
				if !ok {
					return fmt.Errorf("detection runtime is not installed; run doctor without --check to install it")
				}
				fmt.Fprintf(out, "Runtime OK\n  python:   %s\n  provider: %s\n  dir:      %s\n",
					rt.Python, rt.Provider, rt.Dir)
				return nil
			}

			bar := progressbar.NewOptions(-1,
				progressbar.OptionSetDescription("Checking detection runtime"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
			)
			token, ch := bus.Subscribe(64)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range ch {
					if ev.Stage != events.StageBootstrap {
						continue
					}
					bar.Describe(ev.Message)
					_ = bar.Add(1)
				}
			}()

			rt, err := boot.Ensure(cmd.Context())
			bus.Unsubscribe(token)
			<-done
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Runtime ready\n  python:   %s\n  provider: %s\n  worker:   %s\n",
				rt.Python, rt.Provider, rt.WorkerScript)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Verify only, never install")
	return cmd
}
