// Package reporter renders a run for the user: plain text, a live status
// line, or an interactive terminal UI.
package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/testforge/internal/master"
)

// TextReporter writes human-readable output to a writer. With color it
// keeps a progress bar on the last line and styles the summary.
type TextReporter struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	quiet   bool
	started time.Time
	inline  bool // the progress bar occupies the current line
}

// NewTextReporter creates a text reporter.
// If w is nil, defaults to os.Stdout.
// color enables ANSI codes; quiet drops everything but the final summary
// and failure output.
func NewTextReporter(w io.Writer, color, quiet bool) *TextReporter {
	if w == nil {
		w = os.Stdout
	}
	return &TextReporter{w: w, color: color, quiet: quiet}
}

func (r *TextReporter) Start(p master.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = time.Now()
	if r.quiet {
		return
	}
	fmt.Fprintf(r.w, "%s\n", r.c(headerStyle, fmt.Sprintf("testforge: %d files", p.FileCount)))
}

func (r *TextReporter) Say(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet {
		return
	}
	r.endLine()
	fmt.Fprint(r.w, withNewline(text))
}

func (r *TextReporter) Progress(p master.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet || !r.color {
		return
	}
	fmt.Fprintf(r.w, "\r\033[K%s", progressLine(p, r.color))
	r.inline = true
}

func (r *TextReporter) Finish(p master.Progress, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()

	if out := strings.TrimSpace(p.FilteredOutput()); out != "" && !success {
		fmt.Fprintf(r.w, "\n%s\n\n", out)
	}
	fmt.Fprintln(r.w, r.summary(p, success))
}

func (r *TextReporter) summary(p master.Progress, success bool) string {
	status := r.c(doneStyle, "PASSED")
	if !success {
		status = r.c(failedStyle, "FAILED")
	}
	line := fmt.Sprintf("%s  %d/%d files, %d tests, %d failures", status, p.FilesCompleted, p.FileCount, p.TestCount, p.FailureCount)
	if !r.started.IsZero() {
		line += fmt.Sprintf(" in %s", time.Since(r.started).Truncate(time.Millisecond))
	}
	return line
}

func (r *TextReporter) endLine() {
	if r.inline {
		fmt.Fprintln(r.w)
		r.inline = false
	}
}

func (r *TextReporter) c(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

// progressLine renders "[#####     ] 50% 2/4 files, 12 tests, 1 failure".
func progressLine(p master.Progress, color bool) string {
	line := fmt.Sprintf("%s %3d%% %d/%d files, %d tests, %d failures",
		bar(p.Percent(), 30), p.Percent(), p.FilesCompleted, p.FileCount, p.TestCount, p.FailureCount)
	if !color {
		return line
	}
	if p.Failure || p.FailureCount > 0 {
		return failedStyle.Render(line)
	}
	return doneStyle.Render(line)
}

func bar(percent, width int) string {
	if percent > 100 {
		percent = 100
	}
	filled := width * percent / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
