package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/watch"
)

func newWatchCmd() *cobra.Command {
	opts := newRunOptions()
	var root string

	cmd := &cobra.Command{
		Use:   "watch [files...]",
		Short: "Run tests, then re-run them whenever files change",
		Long: "Watch runs like 'testforge run', then watches the directory tree. A changed test file\n" +
			"is re-run on its own; any other change re-runs everything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 && len(cfg.Frameworks) == 0 {
				return fmt.Errorf("nothing to watch: give test files or --%s, --%s or --%s", adapter.RSpecName, adapter.CucumberName, adapter.ShellName)
			}
			if cfg.TUI == "" || cfg.TUI == "auto" || cfg.TUI == "full" {
				// the full screen display would swallow the history between runs
				cfg.TUI = "minimal"
			}

			if err := proc.Acquire(".", "watch"); err != nil {
				return err
			}
			defer proc.Release(".")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, cfg, args, root)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&root, "root", ".", "directory tree to watch")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Configuration, files []string, root string) error {
	registry := adapter.DefaultRegistry(cfg.Commands)

	pass := func(ctx context.Context, cfg *config.Configuration, files []string) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if _, err := runTests(runCtx, cancel, cfg, files); err != nil && !errors.Is(err, ErrTestsFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	pass(ctx, cfg.Clone(), files)

	w := watch.New(watch.Config{
		Root: root,
		IsTest: func(path string) bool {
			_, ok := registry.Match(path)
			return ok
		},
	})
	return w.Run(ctx, func(ctx context.Context, tests []string, all bool) {
		if all {
			fmt.Println("\nchanges detected, running everything")
			pass(ctx, cfg.Clone(), files)
			return
		}
		fmt.Printf("\n%d test files changed\n", len(tests))
		only := cfg.Clone()
		// the changed files replace the framework patterns for this pass
		only.Frameworks = nil
		only.StartFramework = ""
		pass(ctx, only, tests)
	})
}
