// Package adapter binds test frameworks to the worker lifecycle. An adapter
// knows which files belong to its framework, how to warm the framework up,
// and how to run one file and read the outcome from the framework's output.
package adapter

import (
	"context"
	"errors"
	"regexp"
)

// ErrUnknownFramework is returned for a framework name no adapter claims.
var ErrUnknownFramework = errors.New("unknown framework")

// Kind tags an Outcome.
type Kind int

const (
	// Completed means the file ran to the end; it may still have failures.
	Completed Kind = iota
	// RetryRequested means the failure matched the retry policy and the
	// file should run again.
	RetryRequested
	// Failed means the framework could not run the file at all.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case RetryRequested:
		return "retry"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of running one file once.
type Outcome struct {
	Kind         Kind
	TestCount    int
	FailureCount int
	Failed       bool
	Text         string   // framework output; kept only for failures
	Parts        []string // derived work units to run instead of this file
	Err          error
}

// Fixture is the smallest file a framework accepts, used to make it load
// everything once before real work arrives.
type Fixture struct {
	Suffix  string
	Content string
}

// RunOptions carries per-attempt settings into RunFile.
type RunOptions struct {
	Attempt     int
	MaxAttempts int
	Retry       *regexp.Regexp
	Preloading  bool
	SplitFiles  bool
}

// ShouldRetry reports whether a failure with output text earns another attempt.
func (o RunOptions) ShouldRetry(text string) bool {
	if o.Preloading || o.Retry == nil {
		return false
	}
	return o.Attempt < o.MaxAttempts && o.Retry.MatchString(text)
}

// Adapter is implemented by every supported test framework.
type Adapter interface {
	Name() string
	FilenameMatch(name string) bool
	Files(patterns []string) ([]string, error)
	LoadEnvironment(ctx context.Context) error
	MinimalFile() Fixture
	RunFile(ctx context.Context, filename string, opts RunOptions) Outcome
	CleanUp()
}
