// Package burndown records, per worker, when each file ran and how long it
// took, and persists the record of a run for later inspection.
package burndown

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one span of work on one worker: a file, or the framework
// initialization when Filename is empty. Start and End are offsets from the
// start of the run.
type Entry struct {
	Runner    string        `json:"runner"`
	Worker    string        `json:"worker"`
	Framework string        `json:"framework"`
	Filename  string        `json:"filename,omitempty"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Tests     int           `json:"tests,omitempty"`
	Failures  int           `json:"failures,omitempty"`
	Failed    bool          `json:"failed,omitempty"`
	Retried   bool          `json:"retried,omitempty"`

	open bool
}

// Duration is how long the span took.
func (e Entry) Duration() time.Duration { return e.End - e.Start }

// On returns the "runner:worker" tag of the span.
func (e Entry) On() string { return e.Runner + ":" + e.Worker }

// Label describes the span for a report.
func (e Entry) Label() string {
	var b strings.Builder
	if e.Filename != "" {
		b.WriteString(e.Filename)
	} else {
		b.WriteString(e.Framework + " initialization")
	}
	fmt.Fprintf(&b, " (%.2fs)", e.Duration().Seconds())
	switch {
	case e.Failures > 0:
		fmt.Fprintf(&b, ": %d of %d failed", e.Failures, e.Tests)
	case e.Tests > 0:
		fmt.Fprintf(&b, ": %d tests", e.Tests)
	}
	if e.Retried {
		b.WriteString(", retried")
	}
	return b.String()
}

// ShortLabel is Label without the directory and the counts.
func (e Entry) ShortLabel() string {
	name := e.Framework
	if e.Filename != "" {
		name = filepath.Base(e.Filename)
	}
	return fmt.Sprintf("%s (%.2fs)", name, e.Duration().Seconds())
}

// Report is the persisted record of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    []Entry   `json:"entries"`
}

// Runtime is the wall-clock length of the run.
func (r *Report) Runtime() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Workers groups entries by "runner:worker", in time order, keyed in sorted order.
func (r *Report) Workers() ([]string, map[string][]Entry) {
	byWorker := make(map[string][]Entry)
	for _, e := range r.Entries {
		byWorker[e.On()] = append(byWorker[e.On()], e)
	}
	keys := make([]string, 0, len(byWorker))
	for k, entries := range byWorker {
		keys = append(keys, k)
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	}
	sort.Strings(keys)
	return keys, byWorker
}

// Tracker builds a Report from the master's scheduling events.
// Thread-safe; the report is written to the store on Finish.
type Tracker struct {
	mu        sync.Mutex
	store     Store
	now       func() time.Time
	runID     string
	startedAt time.Time
	workers   map[string][]*Entry // "runner:worker" → spans in order
	order     []string
}

// NewTracker returns a tracker that saves to store, which may be nil.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:   store,
		now:     time.Now,
		runID:   uuid.NewString(),
		workers: make(map[string][]*Entry),
	}
}

// RunID identifies the run in the store.
func (t *Tracker) RunID() string { return t.runID }

// Start marks the beginning of the run.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = t.now()
}

// Starting opens the initialization span of a worker that is loading framework.
func (t *Tracker) Starting(on, framework string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open(on, framework, "")
}

// Started closes the initialization span.
func (t *Tracker) Started(on, framework string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last := t.last(on); last != nil && last.open && last.Filename == "" {
		t.close(last)
	}
}

// NextFile opens the span of a file handed to a worker.
func (t *Tracker) NextFile(on, framework, filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open(on, framework, filename)
}

// Result closes a file's span with its counts.
func (t *Tracker) Result(on, framework, filename string, tests, failures int, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.inProgress(on, filename)
	if e == nil {
		return
	}
	t.close(e)
	e.Tests, e.Failures, e.Failed = tests, failures, failed
}

// Retry closes a file's span and opens another for the next attempt.
func (t *Tracker) Retry(on, framework, filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.inProgress(on, filename)
	if e == nil {
		return
	}
	t.close(e)
	e.Retried = true
	t.open(on, framework, filename)
}

// Report returns the record so far. Spans still open end now.
func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reportLocked(t.now())
}

// Finish closes every open span and saves the report.
func (t *Tracker) Finish() error {
	t.mu.Lock()
	finished := t.now()
	r := t.reportLocked(finished)
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if err := t.store.Save(r); err != nil {
		return fmt.Errorf("save burndown: %w", err)
	}
	slog.Debug("burndown saved", "run", r.RunID, "entries", len(r.Entries))
	return nil
}

func (t *Tracker) reportLocked(at time.Time) *Report {
	r := &Report{RunID: t.runID, StartedAt: t.startedAt, FinishedAt: at}
	for _, on := range t.order {
		for _, e := range t.workers[on] {
			cp := *e
			if cp.open {
				cp.End = at.Sub(t.startedAt)
				cp.open = false
			}
			r.Entries = append(r.Entries, cp)
		}
	}
	return r
}

// open starts a span on a worker, ending the previous one if it is still open.
func (t *Tracker) open(on, framework, filename string) {
	if last := t.last(on); last != nil && last.open {
		t.close(last)
	}
	runner, worker := splitOn(on)
	if _, seen := t.workers[on]; !seen {
		t.order = append(t.order, on)
	}
	t.workers[on] = append(t.workers[on], &Entry{
		Runner:    runner,
		Worker:    worker,
		Framework: framework,
		Filename:  filename,
		Start:     t.offset(),
		open:      true,
	})
}

func (t *Tracker) close(e *Entry) {
	e.End = t.offset()
	e.open = false
}

func (t *Tracker) last(on string) *Entry {
	spans := t.workers[on]
	if len(spans) == 0 {
		return nil
	}
	return spans[len(spans)-1]
}

func (t *Tracker) inProgress(on, filename string) *Entry {
	e := t.last(on)
	switch {
	case e == nil:
		slog.Warn("burndown: no file in progress", "on", on, "filename", filename)
		return nil
	case e.Filename != filename:
		slog.Warn("burndown: result for a file not in progress", "on", on, "filename", filename, "in_progress", e.Filename)
		return nil
	}
	return e
}

func (t *Tracker) offset() time.Duration {
	return t.now().Sub(t.startedAt)
}

func splitOn(on string) (runner, worker string) {
	i := strings.LastIndex(on, ":")
	if i < 0 {
		return on, ""
	}
	return on[:i], on[i+1:]
}
