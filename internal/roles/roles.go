// Package roles holds the entry points of the processes a run re-executes
// the binary as. Each reads its configuration from the environment and its
// channel from inherited descriptors.
package roles

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/runner"
	"github.com/ppiankov/testforge/internal/worker"
)

// Descriptors a parent hands to a runner or worker child.
const (
	readFD  = 3
	writeFD = 4
	execFD  = 3 // an exec process only writes
)

// Runner runs a local runner: RUNNER_ID.
func Runner(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%s: want RUNNER_ID, got %v", runner.RoleRunner, args)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	launcher, err := proc.Self()
	if err != nil {
		return err
	}

	ch := channel.FromFiles(proc.InheritedFile(readFD, "runner-in"), proc.InheritedFile(writeFD, "runner-out"))
	defer func() { _ = ch.Close() }()

	r := runner.New(args[0], cfg, ch, launcher)
	r.WorkerStderr = stderr
	return r.Run(ctx)
}

// Worker runs a worker: RUNNER_ID INDEX FRAMEWORK.
func Worker(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%s: want RUNNER_ID INDEX FRAMEWORK, got %v", runner.RoleWorker, args)
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%s: bad worker index %q", runner.RoleWorker, args[1])
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	a, err := adapter.DefaultRegistry(cfg.Commands).Get(args[2])
	if err != nil {
		return err
	}
	launcher, err := proc.Self()
	if err != nil {
		return err
	}

	ch := channel.FromFiles(proc.InheritedFile(readFD, "worker-in"), proc.InheritedFile(writeFD, "worker-out"))
	defer func() { _ = ch.Close() }()

	return worker.New(args[0], index, cfg, a, ch, launcher).Run(ctx)
}

// Exec runs one file: FRAMEWORK ON FILENAME. It only writes to its channel.
func Exec(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%s: want FRAMEWORK ON FILENAME, got %v", worker.RoleExec, args)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	a, err := adapter.DefaultRegistry(cfg.Commands).Get(args[0])
	if err != nil {
		return err
	}

	ch := channel.FromFiles(nil, proc.InheritedFile(execFD, "exec-out"))
	defer func() { _ = ch.Close() }()

	job := worker.Job{Framework: args[0], On: args[1], Filename: args[2]}
	return worker.Exec(ctx, job, a, cfg, ch)
}

// Dispatch runs the role named by args[0]. It reports false when args do
// not name a role.
func Dispatch(ctx context.Context, args []string, stderr io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case runner.RoleRunner:
		return true, Runner(ctx, args[1:], stderr)
	case runner.RoleWorker:
		return true, Worker(ctx, args[1:])
	case worker.RoleExec:
		return true, Exec(ctx, args[1:])
	default:
		return false, nil
	}
}
