// Package runner supervises the worker processes of one host. It starts a
// pool of workers, relays their traffic to the master, and carries out the
// master's answer to every request for work: hand over a file, restart the
// worker under another framework, or let it go.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/config"
	"github.com/ppiankov/testforge/internal/proc"
)

// Role names the hidden subcommands a runner starts or is started as.
const (
	RoleRunner = "__runner"
	RoleWorker = "__worker"
)

// Runner is the per-host supervisor.
type Runner struct {
	id       string
	cfg      *config.Configuration
	upstream *channel.Channel
	launcher *proc.Launcher

	// WorkerStderr receives the diagnostics of worker processes; nil
	// discards them. A remote runner must leave it nil: its stderr shares
	// the pipe the master reads frames from.
	WorkerStderr io.Writer

	aborted atomic.Bool
	slots   map[int]*slot
	started []*slot
}

// New returns a runner that reports to the master over upstream and starts
// workers with launcher.
func New(id string, cfg *config.Configuration, upstream *channel.Channel, launcher *proc.Launcher) *Runner {
	cfg.CalculateDefaultProcessCount()
	return &Runner{
		id:       id,
		cfg:      cfg,
		upstream: upstream,
		launcher: launcher,
		slots:    make(map[int]*slot),
	}
}

// Abort stops the runner from asking the master for more work. Files in
// flight still finish and report.
func (r *Runner) Abort() {
	r.aborted.Store(true)
}

// Run starts the workers and relays until none is left. Any error is
// reported upstream before the workers are stopped.
func (r *Runner) Run(ctx context.Context) error {
	stop := r.trap()
	defer stop()

	err := r.run(ctx)
	if err != nil {
		_ = r.upstream.Write(channel.NewMessage(channel.CmdError,
			"process", "runner",
			"text", err.Error(),
			"on", r.id))
		r.killWorkers()
		return err
	}
	r.waitWorkers()
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	env := r.environment()
	hookEnv := append(os.Environ(), env...)

	if err := r.runHooks(ctx, "before_runner", r.cfg.Hooks.BeforeRunner, hookEnv); err != nil {
		return err
	}
	for i := 1; i <= r.cfg.ProcessCount; i++ {
		workerEnv := append(append([]string(nil), hookEnv...), "TEST_ENV_NUMBER="+strconv.Itoa(i))
		if err := r.runHooks(ctx, "before_worker", r.cfg.Hooks.BeforeWorker, workerEnv); err != nil {
			return err
		}
	}

	framework := r.cfg.StartingFramework()
	if framework == "" {
		return errors.New("no framework to start workers with")
	}
	launcher := r.launcher.With(env...)
	for i := 1; i <= r.cfg.ProcessCount; i++ {
		if err := r.startWorker(ctx, launcher, i, framework); err != nil {
			return err
		}
	}

	gone, err := r.handOutFiles(ctx, launcher)
	if err != nil {
		return err
	}
	if gone {
		r.killWorkers()
		return nil
	}

	return r.runHooks(ctx, "after_runner", r.cfg.Hooks.AfterRunner, hookEnv)
}

// handOutFiles is the relay loop. It reports gone when the master went away.
func (r *Runner) handOutFiles(ctx context.Context, launcher *proc.Launcher) (gone bool, err error) {
	for len(r.slots) > 0 {
		ready, err := channel.ReadSelect(ctx, r.channels())
		if err != nil {
			return false, err
		}

		for _, ch := range ready {
			if ch == r.upstream {
				// the master only ever answers; anything else here is its end of stream
				if msg, err := r.upstream.Read(); msg == nil || err != nil {
					slog.Debug("master went away", "runner", r.id, "error", err)
					return true, nil
				}
				continue
			}

			s := r.slotOf(ch)
			if s == nil {
				continue
			}
			msg, err := ch.Read()
			if err != nil {
				r.debug(fmt.Sprintf("Worker %d sent garbage: %v", s.index, err))
				r.drop(s)
				continue
			}
			if msg == nil {
				r.debug(fmt.Sprintf("Worker %d unexpectedly died.", s.index))
				r.drop(s)
				continue
			}

			if msg.Command() == channel.CmdNextFile && r.aborted.Load() {
				r.closeWorker(s)
				continue
			}

			// workers never talk to the master directly; they would need to share the pipe
			if err := r.upstream.Write(msg); err != nil {
				slog.Debug("relay to master failed", "runner", r.id, "error", err)
				return true, nil
			}

			if msg.Command() == channel.CmdNextFile {
				reply, err := r.upstream.Read()
				if err != nil {
					return false, fmt.Errorf("read reply to next_file: %w", err)
				}
				if reply == nil {
					return true, nil
				}
				if err := r.handleNextFileResponse(ctx, launcher, reply, s); err != nil {
					return false, err
				}
			}
		}
	}
	return false, nil
}

func (r *Runner) handleNextFileResponse(ctx context.Context, launcher *proc.Launcher, reply channel.Message, s *slot) error {
	switch reply.Command() {
	case channel.CmdDrain:
		r.closeWorker(s)
	case channel.CmdFramework:
		r.closeWorker(s)
		return r.startWorker(ctx, launcher, s.index, reply.String("framework"))
	case channel.CmdProcessFile:
		if err := s.ch.Write(reply); err != nil {
			r.debug(fmt.Sprintf("Worker %d unreachable: %v", s.index, err))
			r.drop(s)
		}
	default:
		slog.Warn("unexpected reply to next_file", "runner", r.id, "command", reply.Command())
	}
	return nil
}

// environment is what every hook and worker of this runner sees on top of
// the inherited environment.
func (r *Runner) environment() []string {
	env := []string{
		"RAILS_ENV=" + r.cfg.Environment,
		"TESTFORGE_ENV=" + r.cfg.Environment,
	}
	if entry, err := r.cfg.EnvEntry(); err == nil {
		env = append(env, entry)
	}
	return env
}

func (r *Runner) runHooks(ctx context.Context, stage string, commands, env []string) error {
	if len(commands) == 0 {
		return nil
	}
	var out bytes.Buffer
	err := proc.RunHooks(ctx, stage, commands, env, &out)
	if out.Len() > 0 && r.cfg.Debug {
		_ = r.upstream.Write(channel.NewMessage(channel.CmdStdout,
			"process", stage+" hook",
			"text", out.String(),
			"on", r.id))
	}
	return err
}

// trap turns terminate signals into an abort for as long as the runner runs.
func (r *Runner) trap() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, proc.TerminateSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				slog.Debug("runner aborting", "runner", r.id, "signal", proc.SignalName(sig))
				r.Abort()
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

func (r *Runner) debug(text string) {
	if !r.cfg.Debug {
		return
	}
	_ = r.upstream.Write(channel.NewMessage(channel.CmdDebug, "text", text, "on", r.id))
}
