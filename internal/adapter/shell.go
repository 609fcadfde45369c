package adapter

import (
	"context"
	"regexp"
	"strings"
)

// ShellName is the framework name of the shell adapter.
const ShellName = "shell"

var (
	tapOK    = regexp.MustCompile(`(?m)^ok\b`)
	tapNotOK = regexp.MustCompile(`(?m)^not ok\b`)
)

// Shell runs *_test.sh scripts. Scripts that print TAP lines ("ok",
// "not ok") are counted per line; others count as one test that fails
// when the script exits non-zero.
type Shell struct {
	command []string
}

// NewShell returns a shell adapter. An empty command means "sh".
func NewShell(command ...string) *Shell {
	if len(command) == 0 {
		command = []string{"sh"}
	}
	return &Shell{command: command}
}

func (s *Shell) Name() string { return ShellName }

func (s *Shell) FilenameMatch(name string) bool {
	return strings.HasSuffix(name, "_test.sh")
}

func (s *Shell) Files(patterns []string) ([]string, error) {
	return Glob(patterns, []string{"test/**/*_test.sh"})
}

func (s *Shell) LoadEnvironment(ctx context.Context) error {
	return lookCommand(s.command)
}

func (s *Shell) MinimalFile() Fixture {
	return Fixture{Suffix: "_test.sh", Content: "echo 'ok 1 - preload'\n"}
}

func (s *Shell) RunFile(ctx context.Context, filename string, opts RunOptions) Outcome {
	res, err := runCommand(ctx, withArgs(s.command, filename))
	if err != nil {
		return Outcome{Kind: Failed, Failed: true, Err: err, Text: outputOf(res)}
	}

	failed := res.ExitCode != 0
	if failed && opts.ShouldRetry(res.Output) {
		return Outcome{Kind: RetryRequested, Text: res.Output}
	}

	out := Outcome{Kind: Completed, Failed: failed}
	out.TestCount, out.FailureCount = countTAP(res.Output, failed)
	if out.FailureCount > 0 {
		out.Failed = true
	}
	if out.Failed || opts.Preloading {
		out.Text = res.Output
	}
	return out
}

func (s *Shell) CleanUp() {}

func countTAP(output string, failed bool) (tests, failures int) {
	ok := len(tapOK.FindAllStringIndex(output, -1))
	notOK := len(tapNotOK.FindAllStringIndex(output, -1))
	if ok+notOK == 0 {
		if failed {
			return 1, 1
		}
		return 1, 0
	}
	return ok + notOK, notOK
}
