// Package proc starts and controls the processes of a run: re-executions of
// the running binary in another role, shell hooks, and the process groups
// that test frameworks run in.
package proc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Launcher starts the running binary again under a hidden subcommand.
// Go cannot fork a running program, so every runner, worker and per-file
// exec process is a fresh execution of the same executable.
type Launcher struct {
	Path   string   // executable to run
	Prefix []string // arguments placed before the role
	Env    []string // appended to the current environment
}

// Self returns a launcher for the running executable.
func Self() (*Launcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &Launcher{Path: exe}, nil
}

// With returns a copy of l that adds env to every command it builds.
func (l *Launcher) With(env ...string) *Launcher {
	cp := *l
	cp.Prefix = append([]string(nil), l.Prefix...)
	cp.Env = append(append([]string(nil), l.Env...), env...)
	return &cp
}

// Command builds the command that runs the binary as role.
func (l *Launcher) Command(ctx context.Context, role string, args ...string) *exec.Cmd {
	argv := make([]string, 0, len(l.Prefix)+1+len(args))
	argv = append(argv, l.Prefix...)
	argv = append(argv, role)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, l.Path, argv...)
	cmd.Env = append(os.Environ(), l.Env...)
	return cmd
}
