package reporter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/testforge/internal/master"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// LiveReporter keeps a live status frame at the bottom of the terminal.
// Relayed text scrolls above the frame and stays in the scrollback.
type LiveReporter struct {
	w         io.Writer
	color     bool
	progress  master.Progress
	started   time.Time
	stop      chan struct{}
	done      chan struct{}
	lastLines int
	frame     int
	mu        sync.Mutex
	final     *TextReporter
}

// NewLiveReporter creates a live reporter writing to w.
func NewLiveReporter(w io.Writer, color bool) *LiveReporter {
	return &LiveReporter{
		w:     w,
		color: color,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		final: NewTextReporter(w, color, true),
	}
}

// Start begins the periodic refresh loop.
func (lr *LiveReporter) Start(p master.Progress) {
	lr.mu.Lock()
	lr.progress = p
	lr.started = time.Now()
	lr.mu.Unlock()
	lr.final.Start(p)
	go lr.loop()
}

func (lr *LiveReporter) Say(text string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.clearLastFrame()
	fmt.Fprint(lr.w, withNewline(text))
	lr.draw()
}

func (lr *LiveReporter) Progress(p master.Progress) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.progress = p
}

// Finish halts the refresh loop, clears the frame and prints the summary.
func (lr *LiveReporter) Finish(p master.Progress, success bool) {
	close(lr.stop)
	<-lr.done
	lr.mu.Lock()
	lr.clearLastFrame()
	lr.mu.Unlock()
	lr.final.Finish(p, success)
}

func (lr *LiveReporter) loop() {
	defer close(lr.done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-lr.stop:
			return
		case <-ticker.C:
			lr.mu.Lock()
			lr.clearLastFrame()
			lr.draw()
			lr.frame++
			lr.mu.Unlock()
		}
	}
}

func (lr *LiveReporter) clearLastFrame() {
	if lr.lastLines > 0 {
		fmt.Fprintf(lr.w, "\033[%dA", lr.lastLines)
		for i := 0; i < lr.lastLines; i++ {
			fmt.Fprintf(lr.w, "\033[K\n")
		}
		fmt.Fprintf(lr.w, "\033[%dA", lr.lastLines)
		lr.lastLines = 0
	}
}

func (lr *LiveReporter) draw() {
	lines := lr.buildLines(lr.progress)
	for _, line := range lines {
		fmt.Fprintf(lr.w, "\033[K%s\n", line)
	}
	lr.lastLines = len(lines)
}

// Render produces the frame for a progress snapshot.
// Exported for testing.
func (lr *LiveReporter) Render(p master.Progress) []string {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.buildLines(p)
}

func (lr *LiveReporter) buildLines(p master.Progress) []string {
	spinner := spinnerFrames[lr.frame%len(spinnerFrames)]
	elapsed := time.Duration(0)
	if !lr.started.IsZero() {
		elapsed = time.Since(lr.started).Truncate(time.Second)
	}
	status := fmt.Sprintf("  %s running %s", spinner, elapsed)
	if p.Failure || p.FailureCount > 0 {
		status += "  " + lr.c(failedStyle, "failures so far")
	}
	return []string{status, "  " + progressLine(p, lr.color)}
}

func (lr *LiveReporter) c(style lipgloss.Style, s string) string {
	if !lr.color {
		return s
	}
	return style.Render(s)
}
