package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/internal/boards"
)

func (c *CLI) newBoardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "Inspect task boards",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [dir]",
		Short: "Load every board file and report problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Boards.Dir
			}

			cat, err := boards.LoadDir(cmd.Context(), dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range cat.Boards() {
				fmt.Fprintf(out, "%s\t%s\tguild=%s\ttasks=%d\n", b.ID, b.Title, b.GuildID, len(b.Tasks))
			}
			fmt.Fprintf(out, "%d boards OK\n", len(cat.Boards()))
			return nil
		},
	})
	return cmd
}
