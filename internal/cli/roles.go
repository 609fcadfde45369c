package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/roles"
	"github.com/ppiankov/testforge/internal/runner"
	"github.com/ppiankov/testforge/internal/worker"
)

// newRoleCmds returns the hidden commands a run re-executes the binary as.
func newRoleCmds() []*cobra.Command {
	var cmds []*cobra.Command
	for _, role := range []string{runner.RoleRunner, runner.RoleWorker, worker.RoleExec} {
		cmds = append(cmds, &cobra.Command{
			Use:                role,
			Hidden:             true,
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				handled, err := roles.Dispatch(cmd.Context(), append([]string{cmd.Name()}, args...), os.Stderr)
				if !handled {
					return fmt.Errorf("unknown role %q", cmd.Name())
				}
				return err
			},
		})
	}
	return cmds
}
