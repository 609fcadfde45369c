package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
)

// traceLines bounds the stack excerpt attached to a failed file.
const traceLines = 8

// Job identifies the file an exec process runs and the worker it runs for.
type Job struct {
	Framework string
	On        string
	Filename  string
}

// Exec runs one file to a terminal outcome in the current process. Every
// retry is announced on ch before the next attempt; the final result is
// written last.
func Exec(ctx context.Context, job Job, a adapter.Adapter, cfg *config.Configuration, ch *channel.Channel) error {
	re, err := cfg.RetryRegexp()
	if err != nil {
		return err
	}
	opts := adapter.RunOptions{
		Attempt:     1,
		MaxAttempts: cfg.MaxAttempts,
		Retry:       re,
		SplitFiles:  cfg.SplitFiles,
	}

	for {
		out := runSafely(ctx, a, job.Filename, opts)
		if out.Kind == adapter.RetryRequested && opts.Attempt >= opts.MaxAttempts {
			out.Kind = adapter.Completed
			out.Failed = true
		}
		if out.Kind != adapter.RetryRequested {
			a.CleanUp()
			return ch.Write(resultMessage(job, out))
		}

		if err := ch.Write(channel.NewMessage(channel.CmdRetry,
			"framework", job.Framework,
			"filename", job.Filename,
			"on", job.On)); err != nil {
			return err
		}
		a.CleanUp()
		opts.Attempt++
	}
}

// runSafely turns an adapter panic into a Failed outcome.
func runSafely(ctx context.Context, a adapter.Adapter, filename string, opts adapter.RunOptions) (out adapter.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = adapter.Outcome{
				Kind:   adapter.Failed,
				Failed: true,
				Err:    fmt.Errorf("panic: %v", r),
				Text:   stackExcerpt(string(debug.Stack()), traceLines),
			}
		}
	}()
	return a.RunFile(ctx, filename, opts)
}

func resultMessage(job Job, out adapter.Outcome) channel.Message {
	failed := out.Failed || out.FailureCount > 0 || out.Kind == adapter.Failed

	text := ""
	if failed {
		text = out.Text
		if out.Err != nil {
			text = fmt.Sprintf("Exception when running %s: %v\n%s", job.Filename, out.Err, out.Text)
		}
	}

	msg := channel.NewMessage(channel.CmdResult,
		"framework", job.Framework,
		"filename", job.Filename,
		"on", job.On,
		"test_count", out.TestCount,
		"failure_count", out.FailureCount,
		"failed", failed,
		"text", text)
	if len(out.Parts) > 0 {
		msg["parts_to_run"] = out.Parts
	}
	return msg
}

// stackExcerpt keeps the first n lines of a goroutine trace after the
// "goroutine N [running]:" header.
func stackExcerpt(stack string, n int) string {
	lines := strings.Split(strings.TrimSpace(stack), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine ") {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
