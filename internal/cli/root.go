package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/config"
)

// Version, Commit and BuildDate are set via LDFLAGS at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	verbose    bool
	configFile string
)

func NewRootCmd() *cobra.Command {
	opts := newRunOptions()

	root := &cobra.Command{
		Use:   "testforge [files...]",
		Short: "Distributed test-file parallelizer",
		Long: "testforge splits test files across worker processes on this host and on remote hosts,\n" +
			"keeps every worker busy until the files run out, and reports one combined result.",
		Args: cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			setupLogging(os.Stderr, verbose || debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configFile, "config", config.DefaultSettingsFile, "path to config file")
	opts.bind(root)

	root.AddCommand(newRunCmd())
	root.AddCommand(newSlaveModeCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newBurndownCmd())
	root.AddCommand(newVersionCmd())
	for _, cmd := range newRoleCmds() {
		root.AddCommand(cmd)
	}

	return root
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}
