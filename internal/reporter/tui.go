package reporter

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/testforge/internal/master"
)

// TUI styles
var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pauseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// maxLogLines bounds the relayed text kept for scrolling.
const maxLogLines = 5000

type (
	tickMsg     time.Time
	progressMsg master.Progress
	sayMsg      string
	finishMsg   struct{}
)

// TUIModel is the Bubbletea model for the testforge live display.
type TUIModel struct {
	cancelRun func() // called on 'q' to abort the run

	progress     master.Progress
	log          []string
	started      time.Time
	scrollOffset int
	follow       bool
	paused       bool
	frame        int
	width        int
	height       int
	done         bool
}

// NewTUIModel creates a new TUI model.
func NewTUIModel(cancelRun func()) TUIModel {
	return TUIModel{cancelRun: cancelRun, started: time.Now(), follow: true}
}

// Init implements tea.Model.
func (m TUIModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelRun != nil {
				m.cancelRun()
			}
			m.done = true
			return m, tea.Quit

		case "p", " ":
			m.paused = !m.paused

		case "j", "down":
			m.scrollDown(1)

		case "k", "up":
			m.scrollUp(1)

		case "g", "home":
			m.scrollOffset = 0
			m.follow = false

		case "G", "end":
			m.scrollOffset = m.maxScroll()
			m.follow = true

		case "pgdown":
			m.scrollDown(m.visibleLines())

		case "pgup":
			m.scrollUp(m.visibleLines())
		}

	case progressMsg:
		if !m.paused {
			m.progress = master.Progress(msg)
		}

	case sayMsg:
		m.log = append(m.log, strings.Split(strings.TrimRight(string(msg), "\n"), "\n")...)
		if over := len(m.log) - maxLogLines; over > 0 {
			m.log = m.log[over:]
		}
		if m.follow {
			m.scrollOffset = m.maxScroll()
		}

	case finishMsg:
		m.done = true
		return m, tea.Quit

	case tickMsg:
		m.frame++
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.follow {
			m.scrollOffset = m.maxScroll()
		}
	}

	return m, nil
}

func (m *TUIModel) scrollDown(n int) {
	m.scrollOffset += n
	if max := m.maxScroll(); m.scrollOffset >= max {
		m.scrollOffset = max
		m.follow = true
	}
}

func (m *TUIModel) scrollUp(n int) {
	m.scrollOffset -= n
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}
	m.follow = false
}

func (m TUIModel) visibleLines() int {
	// header(1) + progress(1) + counts(1) + blank(1) + help(1) = 5 reserved lines
	avail := m.height - 5
	if avail < 3 {
		return 3
	}
	return avail
}

func (m TUIModel) maxScroll() int {
	vis := m.visibleLines()
	if len(m.log) <= vis {
		return 0
	}
	return len(m.log) - vis
}

// View implements tea.Model.
func (m TUIModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	spinner := spinnerFrames[m.frame%len(spinnerFrames)]
	if m.done {
		spinner = "✓"
	}
	header := fmt.Sprintf("%s testforge — %d files  %s", spinner, p.FileCount, time.Since(m.started).Truncate(time.Second))
	if m.paused {
		header += "  " + pauseStyle.Render("⏸ PAUSED")
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	barWidth := m.width - 12
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < 10 {
		barWidth = 10
	}
	style := runStyle
	if p.Failure || p.FailureCount > 0 {
		style = failedStyle
	}
	b.WriteString(style.Render(fmt.Sprintf("  %s %3d%%", bar(p.Percent(), barWidth), p.Percent())))
	b.WriteString("\n")
	b.WriteString(m.countsLine(p))
	b.WriteString("\n")

	// apply scroll window
	vis := m.visibleLines()
	start := m.scrollOffset
	end := start + vis
	if end > len(m.log) {
		end = len(m.log)
	}
	if start > len(m.log) {
		start = len(m.log)
	}

	if start > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ↑ %d more above", start)))
		b.WriteString("\n")
	}
	for i := start; i < end; i++ {
		b.WriteString(m.styleLine(m.log[i]))
		b.WriteString("\n")
	}
	if end < len(m.log) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ↓ %d more below", len(m.log)-end)))
		b.WriteString("\n")
	}

	// pad to fill screen
	used := 3 + (end - start) + 1
	if start > 0 {
		used++
	}
	if end < len(m.log) {
		used++
	}
	for i := used; i < m.height-1; i++ {
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("  ↑↓/jk: scroll  g/G: top/bottom  p: pause  q: abort"))
	return b.String()
}

func (m TUIModel) countsLine(p master.Progress) string {
	parts := []string{
		doneStyle.Render(fmt.Sprintf("%d/%d files", p.FilesCompleted, p.FileCount)),
		fmt.Sprintf("%d tests", p.TestCount),
	}
	if p.FailureCount > 0 {
		parts = append(parts, failedStyle.Render(fmt.Sprintf("%d failures", p.FailureCount)))
	} else {
		parts = append(parts, dimStyle.Render("0 failures"))
	}
	return "  " + strings.Join(parts, "  ")
}

func (m TUIModel) styleLine(line string) string {
	switch {
	case strings.Contains(line, "[ERROR for"):
		return failedStyle.Render(line)
	case strings.Contains(line, "Re-running"):
		return warnStyle.Render(line)
	case strings.Contains(line, "[DEBUG]"):
		return dimStyle.Render(line)
	}
	return line
}

// TUI runs a TUIModel in its own Bubbletea program and feeds it the run.
type TUI struct {
	program *tea.Program
	final   *TextReporter
	done    chan struct{}
	once    sync.Once
}

// NewTUI creates a full-screen display. cancelRun is called when the user
// quits; the summary is printed by final once the screen is released.
func NewTUI(cancelRun func(), final *TextReporter, opts ...tea.ProgramOption) *TUI {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &TUI{
		program: tea.NewProgram(NewTUIModel(cancelRun), opts...),
		final:   final,
		done:    make(chan struct{}),
	}
}

func (t *TUI) Start(p master.Progress) {
	t.final.Start(p)
	go func() {
		defer close(t.done)
		if _, err := t.program.Run(); err != nil {
			slog.Warn("TUI error", "error", err)
		}
	}()
	t.send(progressMsg(p))
}

func (t *TUI) Say(text string) { t.send(sayMsg(text)) }

func (t *TUI) Progress(p master.Progress) { t.send(progressMsg(p)) }

func (t *TUI) Finish(p master.Progress, success bool) {
	t.once.Do(func() {
		t.send(finishMsg{})
		<-t.done
	})
	t.final.Finish(p, success)
}

// send delivers msg unless the program has already exited.
func (t *TUI) send(msg tea.Msg) {
	sent := make(chan struct{})
	go func() {
		t.program.Send(msg)
		close(sent)
	}()
	select {
	case <-sent:
	case <-t.done:
	}
}
