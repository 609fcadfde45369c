package adapter

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// RSpecName is the framework name of the RSpec adapter.
const RSpecName = "rspec"

var rspecSummary = regexp.MustCompile(`(\d+) examples?, (\d+) failures?`)

// RSpec runs *_spec.rb files with the rspec command line.
type RSpec struct {
	command []string
}

// NewRSpec returns an RSpec adapter. An empty command means "bundle exec rspec".
func NewRSpec(command ...string) *RSpec {
	if len(command) == 0 {
		command = []string{"bundle", "exec", "rspec"}
	}
	return &RSpec{command: command}
}

func (r *RSpec) Name() string { return RSpecName }

func (r *RSpec) FilenameMatch(name string) bool {
	return strings.Contains(name, "_spec.rb")
}

func (r *RSpec) Files(patterns []string) ([]string, error) {
	return Glob(patterns, []string{"spec/**/*_spec.rb"})
}

func (r *RSpec) LoadEnvironment(ctx context.Context) error {
	return lookCommand(r.command)
}

func (r *RSpec) MinimalFile() Fixture {
	return Fixture{
		Suffix: "_spec.rb",
		Content: `require 'spec_helper'
describe('testforge preloading') do
  it('preloads the fixtures') do
    expect(1).to eq(1)
  end
end
`,
	}
}

func (r *RSpec) RunFile(ctx context.Context, filename string, opts RunOptions) Outcome {
	res, err := runCommand(ctx, withArgs(r.command, "-f", "p", filename))
	if err != nil {
		return Outcome{Kind: Failed, Failed: true, Err: err, Text: outputOf(res)}
	}

	failed := res.ExitCode != 0
	if failed && opts.ShouldRetry(res.Output) {
		return Outcome{Kind: RetryRequested, Text: res.Output}
	}

	out := Outcome{Kind: Completed, Failed: failed}
	out.TestCount, out.FailureCount = parseRSpecSummary(res.Output)
	if out.FailureCount > 0 {
		out.Failed = true
	}
	if out.Failed || opts.Preloading {
		out.Text = res.Output
	}
	return out
}

// CleanUp has nothing to reset: every file runs in its own rspec process.
func (r *RSpec) CleanUp() {}

func parseRSpecSummary(output string) (tests, failures int) {
	m := rspecSummary.FindAllStringSubmatch(output, -1)
	if len(m) == 0 {
		return 0, 0
	}
	last := m[len(m)-1]
	tests, _ = strconv.Atoi(last[1])
	failures, _ = strconv.Atoi(last[2])
	return tests, failures
}

func outputOf(res *execution) string {
	if res == nil {
		return ""
	}
	return res.Output
}
