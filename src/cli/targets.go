package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"screen-ghost/src/profiles"
)

func newTargetsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the target identities in the photo library",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(root)
			if err != nil {
				return err
			}

			dir := resolveTargetsDir(cfg.Face.Recognition.TargetsDir)
			lib, err := profiles.Scan(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !lib.Ready() {
				fmt.Fprintf(out, "No target profiles under %s; every detected face will be masked.\n", dir)
				return nil
			}
			fmt.Fprintf(out, "%d identities, %d photos under %s\n",
				len(lib.People), lib.TotalPhotos(), dir)
			for _, p := range lib.People {
				fmt.Fprintf(out, "  %-24s %d photos\n", p.Name, p.Photos)
			}
			return nil
		},
	}
	return cmd
}
