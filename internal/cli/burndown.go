package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/burndown"
)

func newBurndownCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "burndown FILE",
		Short: "Summarize a recorded burndown",
		Long:  "Burndown prints file duration statistics and the slowest files of the most recent run recorded with --burndown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := burndown.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			r, err := store.Load()
			if err != nil {
				return err
			}
			burndown.Summarize(r, top).Print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "number of slowest files to list")
	return cmd
}
