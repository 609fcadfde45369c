package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/burndown"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/master"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/reporter"
)

// ErrTestsFailed is returned when the run completed but did not pass. The
// failures have already been reported.
var ErrTestsFailed = errors.New("tests failed")

func newRunCmd() *cobra.Command {
	opts := newRunOptions()
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Run test files in parallel across local and remote workers",
		Long: "Run distributes the given test files, or every file of the frameworks named with\n" +
			"--rspec, --cucumber and --shell, across worker processes. -c sets the worker count\n" +
			"of this host, or of the --slave it follows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, files []string) error {
	cfg, err := o.resolve(cmd)
	if err != nil {
		return err
	}
	if len(files) == 0 && len(cfg.Frameworks) == 0 {
		return fmt.Errorf("nothing to run: give test files or --%s, --%s or --%s", adapter.RSpecName, adapter.CucumberName, adapter.ShellName)
	}

	if err := proc.Acquire(".", "run"); err != nil {
		return err
	}
	defer proc.Release(".")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	result, err := runTests(ctx, cancel, cfg, files)
	if err != nil {
		return err
	}
	if o.reportPath != "" {
		if err := reporter.WriteJSONReport(result, o.reportPath); err != nil {
			slog.Warn("failed to write report", "error", err)
		}
	}
	if !result.Success {
		return ErrTestsFailed
	}
	return nil
}

// runTests runs one full pass over files with cfg. cancel aborts the run.
func runTests(ctx context.Context, cancel context.CancelFunc, cfg *config.Configuration, files []string) (*reporter.RunResult, error) {
	launcher, err := proc.Self()
	if err != nil {
		return nil, err
	}

	var tracker *burndown.Tracker
	if cfg.BurndownReport != "" {
		store, err := burndown.Open(cfg.BurndownReport)
		if err != nil {
			return nil, err
		}
		defer func() { _ = store.Close() }()
		tracker = burndown.NewTracker(store)
	}

	opts := master.Options{
		Config:       cfg,
		Registry:     adapter.DefaultRegistry(cfg.Commands),
		Files:        files,
		Launcher:     launcher,
		Formatter:    newFormatter(cfg, cancel),
		RunnerStderr: os.Stderr,
	}
	if tracker != nil {
		opts.Burndown = tracker
	}

	m, err := master.New(opts)
	if err != nil {
		return nil, err
	}
	success, err := m.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := reporter.NewRunResult(m.Progress(), success, m.Aborted())
	if tracker != nil {
		result.BurndownRunID = tracker.RunID()
	}
	return result, nil
}

// newFormatter resolves the display mode: full TUI, minimal live status, or
// plain text.
func newFormatter(cfg *config.Configuration, cancel func()) master.Formatter {
	tty := isTerminal()
	if cfg.Quiet {
		return reporter.NewTextReporter(os.Stdout, tty, true)
	}

	mode := cfg.TUI
	if mode == "" || mode == "auto" {
		if tty {
			mode = "full"
		} else {
			mode = "off"
		}
	}

	switch mode {
	case "full":
		return reporter.NewTUI(cancel, reporter.NewTextReporter(os.Stdout, tty, true))
	case "minimal":
		return reporter.NewLiveReporter(os.Stdout, tty)
	default:
		return reporter.NewTextReporter(os.Stdout, tty, false)
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
