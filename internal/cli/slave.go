package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/slave"
)

func newSlaveModeCmd() *cobra.Command {
	var runnerID string

	cmd := &cobra.Command{
		Use:   "slave-mode",
		Short: "Serve a remote master over stdin and stdout",
		Long: "slave-mode is started by a master's --slave command, normally through ssh. It asks the\n" +
			"master for its configuration and runs workers on this host. Nothing else may be\n" +
			"written to stdout or stderr while it runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout and stderr carry frames back to the master
			setupLogging(io.Discard, false)

			if runnerID == "" {
				host, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("resolve runner id: %w", err)
				}
				runnerID = host
			}
			launcher, err := proc.Self()
			if err != nil {
				return err
			}

			ch := channel.New(os.Stdin, os.Stdout)
			defer func() { _ = ch.Close() }()
			return slave.NewServer(ch, runnerID, launcher).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&runnerID, "id", "", "runner id reported to the master (default: host name)")
	return cmd
}
