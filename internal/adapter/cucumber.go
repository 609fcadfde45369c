package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// CucumberName is the framework name of the Cucumber adapter.
const CucumberName = "cucumber"

var (
	cucumberSummary  = regexp.MustCompile(`(\d+) scenarios?(?: \(([^)]*)\))?`)
	cucumberFailures = regexp.MustCompile(`(\d+) (?:failed|undefined)`)
)

var scenarioKeywords = []string{"Scenario:", "Scenario Outline:", "Scenario Template:", "Example:"}

// Cucumber runs .feature files. With split files enabled, a whole feature
// file is not run; it is answered with one work unit per scenario instead.
type Cucumber struct {
	command []string
}

// NewCucumber returns a Cucumber adapter. An empty command means "bundle exec cucumber".
func NewCucumber(command ...string) *Cucumber {
	if len(command) == 0 {
		command = []string{"bundle", "exec", "cucumber"}
	}
	return &Cucumber{command: command}
}

func (c *Cucumber) Name() string { return CucumberName }

func (c *Cucumber) FilenameMatch(name string) bool {
	return strings.Contains(name, ".feature")
}

func (c *Cucumber) Files(patterns []string) ([]string, error) {
	return Glob(patterns, []string{"features/**/*.feature"})
}

func (c *Cucumber) LoadEnvironment(ctx context.Context) error {
	return lookCommand(c.command)
}

func (c *Cucumber) MinimalFile() Fixture {
	return Fixture{
		Suffix: ".feature",
		Content: `Feature: cucumber preloading
  Scenario: a fake scenario
`,
	}
}

func (c *Cucumber) RunFile(ctx context.Context, filename string, opts RunOptions) Outcome {
	if opts.SplitFiles && !opts.Preloading && !strings.Contains(filename, ":") {
		parts, err := ScenarioLocations(filename)
		if err != nil {
			return Outcome{Kind: Failed, Failed: true, Err: err}
		}
		return Outcome{Kind: Completed, Parts: parts}
	}

	res, err := runCommand(ctx, withArgs(c.command, "--no-color", "--require", "features", filename))
	if err != nil {
		return Outcome{Kind: Failed, Failed: true, Err: err, Text: outputOf(res)}
	}

	failed := res.ExitCode != 0
	if failed && opts.ShouldRetry(res.Output) {
		return Outcome{Kind: RetryRequested, Text: res.Output}
	}

	out := Outcome{Kind: Completed, Failed: failed}
	out.TestCount, out.FailureCount = parseCucumberSummary(res.Output)
	if out.FailureCount > 0 {
		out.Failed = true
	}
	if out.Failed || opts.Preloading {
		out.Text = res.Output
	}
	return out
}

// CleanUp has nothing to reset: every file runs in its own cucumber process.
func (c *Cucumber) CleanUp() {}

// ScenarioLocations returns "file:line" for every scenario in a feature file.
func ScenarioLocations(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filename, err)
	}
	defer func() { _ = f.Close() }()

	var parts []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		for _, kw := range scenarioKeywords {
			if strings.HasPrefix(text, kw) {
				parts = append(parts, filename+":"+strconv.Itoa(line))
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("split %s: %w", filename, err)
	}
	return parts, nil
}

func parseCucumberSummary(output string) (tests, failures int) {
	m := cucumberSummary.FindAllStringSubmatch(output, -1)
	if len(m) == 0 {
		return 0, 0
	}
	last := m[len(m)-1]
	tests, _ = strconv.Atoi(last[1])
	for _, f := range cucumberFailures.FindAllStringSubmatch(last[2], -1) {
		n, _ := strconv.Atoi(f[1])
		failures += n
	}
	return tests, failures
}
