// Package master schedules a run. It owns the work queue, starts the local
// runner and the remote ones, answers every worker's request for work, and
// folds results into the overall outcome.
package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
	"github.com/ppiankov/testforge/internal/runner"
	"github.com/ppiankov/testforge/internal/slave"
)

// LocalRunnerID identifies the runner on the master's own host.
const LocalRunnerID = "local"

// Formatter shows the run to the user.
type Formatter interface {
	Start(p Progress)
	Say(text string)
	Progress(p Progress)
	Finish(p Progress, success bool)
}

// Burndown records when each worker was busy with what.
type Burndown interface {
	Start()
	Starting(on, framework string)
	Started(on, framework string)
	NextFile(on, framework, filename string)
	Result(on, framework, filename string, tests, failures int, failed bool)
	Retry(on, framework, filename string)
	Finish() error
}

// Options configures a Master.
type Options struct {
	Config    *config.Configuration
	Registry  *adapter.Registry
	Files     []string // classified by file name when no frameworks are configured
	Launcher  *proc.Launcher
	Formatter Formatter
	Burndown  Burndown

	// RunnerStderr receives the local runner's diagnostics; nil discards them.
	RunnerStderr io.Writer
}

// link is one runner connection.
type link struct {
	ch    *channel.Channel
	label string
	slave *config.SlaveDescriptor
}

// Master is the global scheduler of one run.
type Master struct {
	cfg       *config.Configuration
	queue     *WorkQueue
	progress  Progress
	formatter Formatter
	burndown  Burndown
	launcher  *proc.Launcher
	stderr    io.Writer

	client  *slave.Client
	local   *exec.Cmd
	links   []*link
	aborted atomic.Bool

	// connect starts the runners; replaced in tests
	connect func(ctx context.Context) ([]*link, error)
}

// New resolves the files of the run and builds the work queue.
func New(opts Options) (*Master, error) {
	cfg := opts.Config
	m := &Master{
		cfg:       cfg,
		queue:     NewWorkQueue(),
		formatter: opts.Formatter,
		burndown:  opts.Burndown,
		launcher:  opts.Launcher,
		stderr:    opts.RunnerStderr,
		client:    slave.NewClient(),
	}
	if m.formatter == nil {
		m.formatter = discardFormatter{}
	}
	if m.burndown == nil {
		m.burndown = discardBurndown{}
	}
	m.connect = m.startRunners

	if len(cfg.Frameworks) > 0 {
		for _, f := range cfg.Frameworks {
			a, err := opts.Registry.Get(f.Name)
			if err != nil {
				return nil, err
			}
			files, err := a.Files(f.Patterns)
			if err != nil {
				return nil, fmt.Errorf("find %s files: %w", f.Name, err)
			}
			m.queue.Add(f.Name, files)
		}
	} else {
		byFramework, order, unmatched := opts.Registry.Classify(opts.Files)
		for _, f := range unmatched {
			m.formatter.Say(fmt.Sprintf("No framework matches %s, skipping it", f))
		}
		for _, name := range order {
			m.queue.Add(name, byFramework[name])
		}
	}

	if cfg.StartFramework != "" {
		if _, err := opts.Registry.Get(cfg.StartFramework); err != nil {
			return nil, fmt.Errorf("start framework: %w", err)
		}
		m.queue.Prioritize(cfg.StartFramework)
	}
	cfg.Framework = m.queue.Current()
	return m, nil
}

// Queue exposes the work queue.
func (m *Master) Queue() *WorkQueue { return m.queue }

// Progress returns a snapshot of the aggregated results.
func (m *Master) Progress() Progress { return m.progress }

// Abort stops handing out work; runners drain once their files finish.
func (m *Master) Abort() { m.aborted.Store(true) }

// Aborted reports whether the run was aborted.
func (m *Master) Aborted() bool { return m.aborted.Load() }

// Run distributes the work and reports overall success.
func (m *Master) Run(ctx context.Context) (bool, error) {
	if m.queue.Remaining() == 0 {
		return true, nil
	}
	m.progress.FileCount = m.queue.Remaining()

	stop := m.trap()
	defer stop()
	defer context.AfterFunc(ctx, m.Abort)()

	// cancellation aborts and drains; it must not kill the runners
	links, err := m.connect(context.WithoutCancel(ctx))
	if err != nil {
		return false, err
	}
	m.links = links
	m.burndown.Start()
	m.formatter.Start(m.progress)

	for len(m.links) > 0 {
		ready, err := channel.ReadSelect(context.Background(), m.channels())
		if err != nil {
			m.finish(false)
			return false, err
		}
		for _, ch := range ready {
			if l := m.linkOf(ch); l != nil {
				m.process(l)
			}
		}
	}

	slog.Debug("waiting for all children to exit")
	m.wait()

	success := m.progress.Success(m.aborted.Load())
	m.finish(success)
	return success, nil
}

// finish closes the burndown and the formatter opened once the runners
// are connected.
func (m *Master) finish(success bool) {
	if err := m.burndown.Finish(); err != nil {
		m.formatter.Say(fmt.Sprintf("burndown: %v", err))
	}
	m.formatter.Finish(m.progress, success)
}

// startRunners starts the local runner, when this host takes work, and one
// remote runner per slave.
func (m *Master) startRunners(ctx context.Context) ([]*link, error) {
	var links []*link

	if m.cfg.ProcessCount > 0 {
		ch, err := m.startLocal(ctx)
		if err != nil {
			return nil, err
		}
		links = append(links, &link{ch: ch, label: "local runner"})
	}

	chans, err := m.client.Connect(ctx, m.cfg.Slaves)
	if err != nil {
		for _, l := range links {
			_ = l.ch.Close()
		}
		return nil, err
	}
	for _, ch := range chans {
		d, _ := m.client.Descriptor(ch)
		links = append(links, &link{ch: ch, label: d.Command, slave: &d})
	}
	return links, nil
}

func (m *Master) startLocal(ctx context.Context) (*channel.Channel, error) {
	entry, err := m.cfg.EnvEntry()
	if err != nil {
		return nil, err
	}
	ours, theirs, err := channel.Pipe()
	if err != nil {
		return nil, err
	}

	cmd := m.launcher.With(entry).Command(ctx, runner.RoleRunner, LocalRunnerID)
	cmd.ExtraFiles = theirs.Files()
	cmd.Stderr = m.stderr
	if err := cmd.Start(); err != nil {
		_ = ours.Close()
		_ = theirs.Close()
		return nil, fmt.Errorf("start local runner: %w", err)
	}
	_ = theirs.Close()

	slog.Debug("local runner started", "pid", cmd.Process.Pid, "workers", m.cfg.ProcessCount)
	m.local = cmd
	return ours, nil
}

// process reads and handles one message from a runner.
func (m *Master) process(l *link) {
	msg, err := l.ch.Read()
	if err != nil {
		if errors.Is(err, channel.ErrProtocolInvalid) {
			err = fmt.Errorf("error running %s: %w", l.label, err)
		}
		m.formatter.Say(err.Error())
		m.progress.Fail(err.Error() + "\n")
		m.drop(l)
		return
	}
	if msg == nil {
		m.drop(l)
		return
	}

	on := msg.String("on")
	switch msg.Command() {
	case channel.CmdNextFile:
		m.nextFile(l, msg)

	case channel.CmdResult:
		framework, filename := msg.String("framework"), msg.String("filename")
		tests, failures, failed := msg.Int("test_count"), msg.Int("failure_count"), msg.Bool("failed")
		text := msg.String("text")

		m.burndown.Result(on, framework, filename, tests, failures, failed)
		m.progress.FileProgress(tests, failures, failed, text)
		if parts := msg.Strings("parts_to_run"); len(parts) > 0 {
			m.queue.Add(framework, parts)
			m.progress.FileCount += len(parts)
		}
		if m.cfg.PrintFailures && failed && text != "" {
			m.formatter.Say(text)
		}
		m.formatter.Progress(m.progress)

	case channel.CmdRetry:
		m.formatter.Say(fmt.Sprintf("%s Re-running %s", on, msg.String("filename")))
		m.burndown.Retry(on, msg.String("framework"), msg.String("filename"))

	case channel.CmdStarting:
		m.burndown.Starting(on, msg.String("framework"))

	case channel.CmdStarted:
		m.burndown.Started(on, msg.String("framework"))

	case channel.CmdError:
		text := sayLines(msg.String("text"), fmt.Sprintf("%s [ERROR for %s] ", on, msg.String("process")))
		m.formatter.Say(text)
		m.progress.Fail(text)
		m.formatter.Progress(m.progress)
		m.drop(l)

	case channel.CmdDebug:
		if m.cfg.Debug {
			m.formatter.Say(sayLines(msg.String("text"), on+" [DEBUG] "))
		}

	case channel.CmdStdout:
		m.formatter.Say(fmt.Sprintf("%s [STDOUT for %s]\n%s", on, msg.String("process"), msg.String("text")))

	case channel.CmdStderr:
		m.formatter.Say(fmt.Sprintf("%s [STDERR for %s]\n%s", on, msg.String("process"), msg.String("text")))

	case channel.CmdSlaveConfiguration:
		m.slaveConfiguration(l, msg)

	default:
		slog.Warn("unrecognised command to master", "command", msg.Command(), "from", l.label)
		m.formatter.Say(fmt.Sprintf("Unrecognised command to master: %s", msg.Command()))
	}
}

// nextFile answers a worker's request for work: drain when there is none,
// the next file when the worker runs the current framework, otherwise the
// framework it must be restarted under.
func (m *Master) nextFile(l *link, msg channel.Message) {
	var reply channel.Message
	framework := msg.String("framework")

	switch {
	case m.aborted.Load() || m.queue.Remaining() == 0:
		reply = channel.NewMessage(channel.CmdDrain)
	case framework == m.queue.Current():
		file, _ := m.queue.Next()
		m.burndown.NextFile(msg.String("on"), framework, file)
		reply = channel.NewMessage(channel.CmdProcessFile, "filename", file)
	default:
		reply = channel.NewMessage(channel.CmdFramework, "framework", m.queue.Current())
	}

	if err := l.ch.Write(reply); err != nil {
		slog.Debug("reply to runner failed", "runner", l.label, "error", err)
		m.drop(l)
	}
}

func (m *Master) slaveConfiguration(l *link, msg channel.Message) {
	if l.slave == nil {
		m.formatter.Say(fmt.Sprintf("%s requested a slave configuration but is not a slave", l.label))
		return
	}
	slog.Debug("slave runner configuration requested", "runner", msg.String("runner_id"), "command", l.label)

	cm, err := m.cfg.ForSlave(*l.slave).ToMap()
	if err != nil {
		m.formatter.Say(err.Error())
		m.drop(l)
		return
	}
	if err := l.ch.Write(channel.NewMessage(channel.CmdConfiguration, "configuration", cm)); err != nil {
		m.drop(l)
	}
}

func (m *Master) drop(l *link) {
	_ = l.ch.Close()
	for i, cur := range m.links {
		if cur == l {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return
		}
	}
}

func (m *Master) channels() []*channel.Channel {
	chans := make([]*channel.Channel, 0, len(m.links))
	for _, l := range m.links {
		chans = append(chans, l.ch)
	}
	return chans
}

func (m *Master) linkOf(ch *channel.Channel) *link {
	for _, l := range m.links {
		if l.ch == ch {
			return l
		}
	}
	return nil
}

// wait reaps the local runner and every slave launch command.
func (m *Master) wait() {
	if m.local != nil {
		if err := m.local.Wait(); err != nil {
			slog.Debug("local runner exited", "error", err)
		}
	}
	m.client.Wait()
}

// trap aborts the run on a terminate signal.
func (m *Master) trap() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, proc.TerminateSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				slog.Debug("master aborting", "signal", proc.SignalName(sig))
				m.Abort()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

type discardFormatter struct{}

func (discardFormatter) Start(Progress)        {}
func (discardFormatter) Say(string)            {}
func (discardFormatter) Progress(Progress)     {}
func (discardFormatter) Finish(Progress, bool) {}

type discardBurndown struct{}

func (discardBurndown) Start()                                        {}
func (discardBurndown) Starting(string, string)                       {}
func (discardBurndown) Started(string, string)                        {}
func (discardBurndown) NextFile(string, string, string)               {}
func (discardBurndown) Result(string, string, string, int, int, bool) {}
func (discardBurndown) Retry(string, string, string)                  {}
func (discardBurndown) Finish() error                                 { return nil }
