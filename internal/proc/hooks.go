package proc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// RunHooks runs each shell command via sh -c, in order, and stops at the
// first one that fails. Output of every command goes to out.
func RunHooks(ctx context.Context, stage string, commands []string, env []string, out io.Writer) error {
	for _, c := range commands {
		if strings.TrimSpace(c) == "" {
			continue
		}
		slog.Debug("running hook", "stage", stage, "command", c)

		var tail bytes.Buffer
		w := io.Writer(&tail)
		if out != nil {
			w = io.MultiWriter(out, &tail)
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Env = env
		cmd.Stdout = w
		cmd.Stderr = w
		SetupProcessGroup(cmd)

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s hook %q: %w%s", stage, c, err, lastLines(tail.String(), 5))
		}
	}
	return nil
}

// lastLines formats the trailing output of a failed hook for an error message.
func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return "\n" + strings.Join(lines, "\n")
}
