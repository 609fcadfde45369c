package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ppiankov/testforge/internal/proc"
)

// execution is the captured run of one framework command.
type execution struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// runCommand runs argv with stdout and stderr merged into one buffer. A
// non-zero exit is reported in ExitCode, not as an error; the error is for
// commands that could not be started or were cancelled.
func runCommand(ctx context.Context, argv []string) (*execution, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	start := time.Now()

	slog.Debug("spawning framework", "argv", argv)

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	proc.SetupProcessGroup(cmd)

	err := cmd.Run()
	res := &execution{Output: out.String(), Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return res, fmt.Errorf("run %s: %w", argv[0], ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			return res, fmt.Errorf("run %s: %w", argv[0], err)
		}
	default:
		return res, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return res, nil
}

// lookCommand checks that the first word of argv can be executed.
func lookCommand(argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("framework command %q: %w", argv[0], err)
	}
	return nil
}

// withArgs returns a fresh slice of base followed by args.
func withArgs(base []string, args ...string) []string {
	argv := make([]string, 0, len(base)+len(args))
	argv = append(argv, base...)
	return append(argv, args...)
}
