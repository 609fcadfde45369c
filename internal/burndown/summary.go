package burndown

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Summary condenses a report into duration statistics.
type Summary struct {
	RunID    string
	Runtime  time.Duration
	Files    int
	Failed   int
	Retried  int
	Workers  int
	P50      time.Duration
	P90      time.Duration
	P99      time.Duration
	Max      time.Duration
	Slowest  []Entry
	Busy     map[string]time.Duration // "runner:worker" → time spent in spans
	Idle     time.Duration            // worker time not spent in any span
	Overhead time.Duration            // time spent initializing frameworks
}

// maxTrackable bounds a single recorded span: one day, in milliseconds.
const maxTrackable = int64(24 * time.Hour / time.Millisecond)

// Summarize computes statistics over the file spans of r, keeping the n slowest.
func Summarize(r *Report, n int) Summary {
	s := Summary{
		RunID:   r.RunID,
		Runtime: r.Runtime(),
		Busy:    make(map[string]time.Duration),
	}
	h := hdrhistogram.New(1, maxTrackable, 3)

	var files []Entry
	for _, e := range r.Entries {
		s.Busy[e.On()] += e.Duration()
		if e.Filename == "" {
			s.Overhead += e.Duration()
			continue
		}
		if e.Retried {
			s.Retried++
			continue
		}
		files = append(files, e)
		if e.Failed {
			s.Failed++
		}
		ms := e.Duration().Milliseconds()
		if ms < 1 {
			ms = 1
		}
		if ms > maxTrackable {
			ms = maxTrackable
		}
		_ = h.RecordValue(ms)
	}
	s.Files = len(files)
	s.Workers = len(s.Busy)

	if s.Files > 0 {
		s.P50 = quantile(h, 50)
		s.P90 = quantile(h, 90)
		s.P99 = quantile(h, 99)
		s.Max = time.Duration(h.Max()) * time.Millisecond
	}
	for _, busy := range s.Busy {
		if idle := s.Runtime - busy; idle > 0 {
			s.Idle += idle
		}
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Duration() > files[j].Duration() })
	if len(files) > n {
		files = files[:n]
	}
	s.Slowest = files
	return s
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Millisecond
}

// Utilization is the share of worker time spent running files or loading
// frameworks, in percent.
func (s Summary) Utilization() float64 {
	if s.Workers == 0 || s.Runtime <= 0 {
		return 0
	}
	var busy time.Duration
	for _, d := range s.Busy {
		busy += d
	}
	return 100 * float64(busy) / float64(s.Runtime*time.Duration(s.Workers))
}

// Print writes the summary as plain text.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s: %d files on %d workers in %s\n", s.RunID, s.Files, s.Workers, s.Runtime.Round(time.Millisecond))
	fmt.Fprintf(w, "  failed %d, retried %d\n", s.Failed, s.Retried)
	fmt.Fprintf(w, "  file duration p50 %s  p90 %s  p99 %s  max %s\n", s.P50, s.P90, s.P99, s.Max)
	fmt.Fprintf(w, "  framework loading %s, idle %s, utilization %.1f%%\n",
		s.Overhead.Round(time.Millisecond), s.Idle.Round(time.Millisecond), s.Utilization())
	if len(s.Slowest) == 0 {
		return
	}
	fmt.Fprintln(w, "  slowest:")
	for _, e := range s.Slowest {
		fmt.Fprintf(w, "    %-12s %s\n", e.On(), e.Label())
	}
}
