package reporter

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ppiankov/testforge/internal/master"
)

func TestTextReporter_Run(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf, false, false)

	p := master.Progress{FileCount: 2}
	r.Start(p)
	r.Say("local:1 [STDOUT for worker]\nhello")
	p.FileProgress(3, 1, true, "1) broken\n\n\n\nexpected 1 got 2\n")
	r.Progress(p)
	p.FileProgress(2, 0, false, "")
	r.Finish(p, false)

	out := buf.String()
	for _, want := range []string{
		"testforge: 2 files",
		"hello\n",
		"1) broken\n\nexpected 1 got 2",
		"FAILED  2/2 files, 5 tests, 1 failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "[") && strings.Contains(out, "#") {
		t.Errorf("progress bar should only be drawn with color:\n%s", out)
	}
}

func TestTextReporter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf, false, true)

	p := master.Progress{FileCount: 1}
	r.Start(p)
	r.Say("noise")
	p.FileProgress(4, 0, false, "")
	r.Progress(p)
	r.Finish(p, true)

	out := buf.String()
	if strings.Contains(out, "noise") || strings.Contains(out, "testforge:") {
		t.Errorf("quiet output should only hold the summary:\n%s", out)
	}
	if !strings.Contains(out, "PASSED  1/1 files, 4 tests, 0 failures") {
		t.Errorf("summary missing:\n%s", out)
	}
}

func TestTextReporter_InlineBarEndsBeforeText(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf, true, false)

	p := master.Progress{FileCount: 4, FilesCompleted: 2}
	r.Progress(p)
	r.Say("after the bar")

	out := buf.String()
	if !strings.Contains(out, "#") {
		t.Fatalf("expected a progress bar:\n%q", out)
	}
	if !strings.Contains(out, "\nafter the bar\n") {
		t.Errorf("text should start on a fresh line:\n%q", out)
	}
}

func TestBar(t *testing.T) {
	cases := []struct {
		percent int
		want    string
	}{
		{0, "[          ]"},
		{50, "[#####     ]"},
		{100, "[##########]"},
		{150, "[##########]"},
	}
	for _, tc := range cases {
		if got := bar(tc.percent, 10); got != tc.want {
			t.Errorf("bar(%d): got %q, want %q", tc.percent, got, tc.want)
		}
	}
}

func TestLiveReporter_Render(t *testing.T) {
	var buf bytes.Buffer
	lr := NewLiveReporter(&buf, false)

	lines := lr.Render(master.Progress{FileCount: 10, FilesCompleted: 5, TestCount: 40, FailureCount: 2})
	out := strings.Join(lines, "\n")

	if !strings.Contains(out, "running") {
		t.Error("expected running status")
	}
	if !strings.Contains(out, "50% 5/10 files, 40 tests, 2 failures") {
		t.Errorf("progress line missing:\n%s", out)
	}
	if !strings.Contains(out, "failures so far") {
		t.Error("expected failure marker")
	}
}

func TestLiveReporter_SayKeepsTextAboveFrame(t *testing.T) {
	var buf bytes.Buffer
	lr := NewLiveReporter(&buf, false)

	p := master.Progress{FileCount: 1}
	lr.Start(p)
	lr.Say("ci-2:3 Re-running features/a.feature")
	p.FileProgress(1, 0, false, "")
	lr.Progress(p)
	lr.Finish(p, true)

	out := buf.String()
	if !strings.Contains(out, "ci-2:3 Re-running features/a.feature\n") {
		t.Errorf("said text missing:\n%q", out)
	}
	if !strings.Contains(out, "PASSED") {
		t.Errorf("summary missing:\n%q", out)
	}
}

func TestTUIModel_View(t *testing.T) {
	m := NewTUIModel(nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	m = updated.(TUIModel)

	updated, _ = m.Update(progressMsg(master.Progress{FileCount: 4, FilesCompleted: 1, TestCount: 7, FailureCount: 1}))
	m = updated.(TUIModel)
	updated, _ = m.Update(sayMsg("local:1 [ERROR for worker] boom\nsecond line\n"))
	m = updated.(TUIModel)

	view := m.View()
	for _, want := range []string{"testforge — 4 files", "25%", "1/4 files", "7 tests", "1 failures", "boom", "second line", "q: abort"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}
	if len(m.log) != 2 {
		t.Errorf("log lines: got %d, want 2", len(m.log))
	}
}

func TestTUIModel_Scroll(t *testing.T) {
	m := NewTUIModel(nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	m = updated.(TUIModel)

	for i := 0; i < 20; i++ {
		updated, _ = m.Update(sayMsg("line"))
		m = updated.(TUIModel)
	}
	// 10 rows leave 5 for the log
	if m.scrollOffset != 15 {
		t.Fatalf("following log: offset %d, want 15", m.scrollOffset)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	m = updated.(TUIModel)
	if m.scrollOffset != 0 || m.follow {
		t.Errorf("top: offset %d follow %v", m.scrollOffset, m.follow)
	}

	updated, _ = m.Update(sayMsg("more"))
	m = updated.(TUIModel)
	if m.scrollOffset != 0 {
		t.Errorf("new text moved a pinned view to %d", m.scrollOffset)
	}
	if !strings.Contains(m.View(), "more below") {
		t.Error("expected scroll hint")
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	m = updated.(TUIModel)
	if m.scrollOffset != 16 || !m.follow {
		t.Errorf("bottom: offset %d follow %v", m.scrollOffset, m.follow)
	}
}

func TestTUIModel_QuitAborts(t *testing.T) {
	aborted := false
	m := NewTUIModel(func() { aborted = true })

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !aborted {
		t.Error("q should abort the run")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !updated.(TUIModel).done {
		t.Error("model should be done")
	}
}

func TestTUIModel_PauseFreezesProgress(t *testing.T) {
	m := NewTUIModel(nil)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	m = updated.(TUIModel)
	updated, _ = m.Update(progressMsg(master.Progress{FileCount: 3, FilesCompleted: 3}))
	m = updated.(TUIModel)
	if m.progress.FilesCompleted != 0 {
		t.Errorf("paused view changed: %+v", m.progress)
	}
}

func TestTUI_RunsProgram(t *testing.T) {
	var out bytes.Buffer
	final := NewTextReporter(&out, false, true)
	tui := NewTUI(nil, final, tea.WithInput(nil), tea.WithOutput(&bytes.Buffer{}), tea.WithoutRenderer())

	p := master.Progress{FileCount: 1}
	tui.Start(p)
	tui.Say("hello")
	p.FileProgress(1, 0, false, "")
	tui.Progress(p)
	tui.Finish(p, true)

	if !strings.Contains(out.String(), "PASSED  1/1 files") {
		t.Errorf("summary missing:\n%s", out.String())
	}
}
