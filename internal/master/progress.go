package master

import (
	"regexp"
	"strings"
)

var blankRun = regexp.MustCompile(`\n\n\n+`)

// Progress aggregates results. Folding is commutative, so totals do not
// depend on the order results arrive in.
type Progress struct {
	FileCount      int
	FilesCompleted int
	TestCount      int
	FailureCount   int
	Failure        bool
	Output         string
}

// FileProgress folds one file result in.
func (p *Progress) FileProgress(tests, failures int, failed bool, text string) {
	p.FilesCompleted++
	p.TestCount += tests
	p.FailureCount += failures
	p.Failure = p.Failure || failed
	p.Output += text
}

// Fail records a failure that is not tied to a file result.
func (p *Progress) Fail(message string) {
	p.Failure = true
	p.Output += message
}

// FilteredOutput is the accumulated output with runs of blank lines collapsed.
func (p *Progress) FilteredOutput() string {
	return blankRun.ReplaceAllString(p.Output, "\n\n")
}

// Success reports whether every file completed without a failure.
func (p *Progress) Success(aborted bool) bool {
	return !aborted &&
		p.FilesCompleted == p.FileCount &&
		p.FailureCount == 0 &&
		!p.Failure
}

// Percent returns completion in whole percent.
func (p *Progress) Percent() int {
	if p.FileCount == 0 {
		return 100
	}
	return p.FilesCompleted * 100 / p.FileCount
}

// sayLines prefixes every line of text.
func sayLines(text, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
