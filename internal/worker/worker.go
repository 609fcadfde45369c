// Package worker runs the life of one worker process: it is bound to a
// single framework, warms that framework up once, then asks its runner for
// files until told to stop. Each file runs in a disposable exec process so
// that state a test leaves behind dies with it.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"

	"github.com/ppiankov/testforge/internal/adapter"
	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
)

// RoleExec is the hidden subcommand that runs a single file.
const RoleExec = "__exec"

// Worker is one worker process.
type Worker struct {
	runnerID string
	index    int
	cfg      *config.Configuration
	adapter  adapter.Adapter
	ch       *channel.Channel
	launcher *proc.Launcher

	// exit ends the process from a signal handler; tests replace it.
	exit func(code int)

	mu       sync.Mutex
	inflight *exec.Cmd
}

// New returns a worker that talks to its runner over ch and starts exec
// processes with launcher.
func New(runnerID string, index int, cfg *config.Configuration, a adapter.Adapter, ch *channel.Channel, launcher *proc.Launcher) *Worker {
	return &Worker{
		runnerID: runnerID,
		index:    index,
		cfg:      cfg,
		adapter:  a,
		ch:       ch,
		launcher: launcher,
		exit:     os.Exit,
	}
}

// On identifies the worker in messages as "runner:slot".
func (w *Worker) On() string {
	return fmt.Sprintf("%s:%d", w.runnerID, w.index)
}

// Run executes the worker lifecycle. It returns nil when the runner closes
// the worker or goes away.
func (w *Worker) Run(ctx context.Context) error {
	stop := w.trap()
	defer stop()

	if err := w.run(ctx); err != nil {
		_ = w.ch.Write(channel.NewMessage(channel.CmdError,
			"process", "worker",
			"text", err.Error(),
			"on", w.On()))
		return err
	}
	return nil
}

func (w *Worker) run(ctx context.Context) error {
	framework := w.adapter.Name()

	if err := w.ch.Write(channel.NewMessage(channel.CmdStarting, "framework", framework, "on", w.On())); err != nil {
		return err
	}
	if err := w.preload(ctx); err != nil {
		return err
	}
	if err := w.ch.Write(channel.NewMessage(channel.CmdStarted, "framework", framework, "on", w.On())); err != nil {
		return err
	}

	for {
		w.debug("Announcing availability")
		if err := w.ch.Write(channel.NewMessage(channel.CmdNextFile, "framework", framework, "on", w.On())); err != nil {
			return err
		}

		w.debug("Waiting for next job")
		msg, err := w.ch.Read()
		if err != nil {
			return fmt.Errorf("read from runner: %w", err)
		}
		if msg == nil || msg.Command() == channel.CmdClose {
			w.debug("Channel closed, exiting")
			return nil
		}
		if msg.Command() == channel.CmdProcessFile {
			if err := w.processFile(ctx, strings.TrimSpace(msg.String("filename"))); err != nil {
				return err
			}
		}
	}
}

// preload makes the framework run its initialisation against a minimal
// file so that the first real file does not pay for it.
func (w *Worker) preload(ctx context.Context) error {
	if err := w.adapter.LoadEnvironment(ctx); err != nil {
		return fmt.Errorf("load %s environment: %w", w.adapter.Name(), err)
	}

	w.debug("running empty spec/feature to make framework run its initialisation")
	fx := w.adapter.MinimalFile()
	f, err := os.CreateTemp("", "testforge-*"+fx.Suffix)
	if err != nil {
		return fmt.Errorf("create preload file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.WriteString(fx.Content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write preload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write preload file: %w", err)
	}

	out := w.adapter.RunFile(ctx, f.Name(), adapter.RunOptions{Attempt: 1, MaxAttempts: 1, Preloading: true})
	if out.Err != nil {
		w.debug(fmt.Sprintf("preload of %s failed: %v", w.adapter.Name(), out.Err))
	}
	if out.Text != "" && w.cfg.Debug {
		_ = w.ch.Write(channel.NewMessage(channel.CmdStdout,
			"process", "preload framework",
			"text", out.Text,
			"on", w.On()))
	}
	w.adapter.CleanUp()
	return nil
}

// trap installs the worker's signal handlers and returns a function that
// removes them. Terminate signals are reported and end the process at once;
// the stop signal from the runner kills the file in flight and exits.
func (w *Worker) trap() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, append(append([]os.Signal(nil), proc.TerminateSignals...), proc.StopWorkerSignal)...)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			if sig == proc.StopWorkerSignal {
				slog.Debug("worker stopping", "on", w.On())
				w.killInflight()
				w.exit(0)
				return
			}
			_ = w.ch.Write(channel.NewMessage(channel.CmdError,
				"process", "trap",
				"text", "Received "+proc.SignalName(sig),
				"on", w.On()))
			w.killInflight()
			w.exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func (w *Worker) setInflight(cmd *exec.Cmd) {
	w.mu.Lock()
	w.inflight = cmd
	w.mu.Unlock()
}

func (w *Worker) killInflight() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight != nil && w.inflight.Process != nil {
		_ = proc.KillGroup(w.inflight.Process.Pid, os.Kill)
	}
}

func (w *Worker) debug(text string) {
	if !w.cfg.Debug {
		return
	}
	_ = w.ch.Write(channel.NewMessage(channel.CmdDebug, "text", text, "on", w.On()))
}
