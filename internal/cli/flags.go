package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/config"
)

// defaultPatterns is what a bare --rspec, --cucumber or --shell parses as.
const defaultPatterns = "default"

// runOptions collects the flags of a run. Flags that depend on their
// position write into cfg as they are parsed.
type runOptions struct {
	cfg        *config.Configuration
	hooks      config.Hooks
	reportPath string
}

func newRunOptions() *runOptions {
	return &runOptions{cfg: config.Default()}
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	c := o.cfg

	f.VarP(&cpusValue{cfg: c}, "cpus", "c", "worker processes on this host, or on the preceding --slave")
	f.Var(&slaveValue{cfg: c}, "slave", "command that starts 'testforge slave-mode' on another host (repeatable)")
	for _, name := range []string{adapter.RSpecName, adapter.CucumberName, adapter.ShellName} {
		f.Var(&frameworkValue{cfg: c, name: name}, name, fmt.Sprintf("run every %s file, optionally limited to comma-separated patterns", name))
		f.Lookup(name).NoOptDefVal = defaultPatterns
	}

	f.BoolVar(&c.Debug, "debug", false, "relay debug output from runners and workers")
	f.BoolVarP(&c.Quiet, "quiet", "q", false, "print only the final result")
	f.BoolVarP(&c.PrintFailures, "print-failures", "p", false, "print failure output as soon as a file fails")
	f.StringVar(&c.BurndownReport, "burndown", "", "record per-worker timings to FILE (.json, or .db/.sqlite for SQLite)")
	f.StringSliceVar(&o.hooks.BeforeRunner, "before-runner", nil, "commands run once per host before any worker starts")
	f.StringSliceVar(&o.hooks.BeforeWorker, "before-worker", nil, "commands run once per worker slot, with TEST_ENV_NUMBER set")
	f.StringSliceVar(&o.hooks.AfterRunner, "after-runner", nil, "commands run once per host after the last worker exits")
	f.BoolVar(&c.SplitFiles, "split-files", false, "split feature files into scenarios")
	f.StringVar(&c.StartFramework, "start-framework", "", "process this framework's files first")
	f.StringVarP(&c.Environment, "environment", "e", config.DefaultEnvironment, "environment exported as RAILS_ENV and TESTFORGE_ENV")
	f.StringVar(&c.RetryPattern, "retry", "", "retry files whose failure output matches this text, or /regex/")
	f.IntVar(&c.MaxAttempts, "attempts", config.DefaultMaxAttempts, "maximum attempts per file when --retry matches")
	f.StringVar(&c.TUI, "tui", "auto", "display mode: full (interactive TUI), minimal (live status), off (plain text), auto (detect TTY)")
	f.StringVar(&o.reportPath, "report", "", "write the final result as JSON to FILE")
}

// resolve applies the config file and returns the finished configuration.
func (o *runOptions) resolve(cmd *cobra.Command) (*config.Configuration, error) {
	c := o.cfg
	changed := cmd.Flags().Changed
	if changed("before-runner") {
		c.Hooks.BeforeRunner = o.hooks.BeforeRunner
	}
	if changed("before-worker") {
		c.Hooks.BeforeWorker = o.hooks.BeforeWorker
	}
	if changed("after-runner") {
		c.Hooks.AfterRunner = o.hooks.AfterRunner
	}

	settings, err := config.LoadSettings(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings.Apply(c, changed)

	if err := config.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// cpusValue applies -c to the most recent --slave, or to this host.
type cpusValue struct {
	cfg *config.Configuration
	set bool
}

func (v *cpusValue) String() string {
	if v.cfg == nil || !v.set {
		return "number of CPUs"
	}
	return strconv.Itoa(v.cfg.ProcessCount)
}

func (v *cpusValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("want a non-negative number, got %q", s)
	}
	v.cfg.SetProcessCount(n)
	v.set = true
	return nil
}

func (v *cpusValue) Type() string { return "N" }

type slaveValue struct {
	cfg *config.Configuration
}

func (v *slaveValue) String() string { return "" }

func (v *slaveValue) Set(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("empty slave command")
	}
	v.cfg.AddSlave(s)
	return nil
}

func (v *slaveValue) Type() string { return "CMD" }

type frameworkValue struct {
	cfg  *config.Configuration
	name string
}

func (v *frameworkValue) String() string { return "" }

func (v *frameworkValue) Set(s string) error {
	var patterns []string
	if s != defaultPatterns {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
	}
	v.cfg.AddFramework(v.name, patterns)
	return nil
}

func (v *frameworkValue) Type() string { return "PATTERNS" }
