package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"screen-ghost/src/monitor"
)

func newMonitorsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "monitors",
		Short: "List displays with geometry and DPI scale",
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor.EnableDPIAwareness()
			mons, err := monitor.Enumerate()
			if err != nil {
				return fmt.Errorf("enumerate displays: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(mons)
			}
			if len(mons) == 0 {
				fmt.Fprintln(out, "No displays found")
				return nil
			}
			for _, m := range mons {
				fmt.Fprintln(out, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
