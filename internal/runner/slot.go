package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/proc"
)

// slot is one worker position. The process in a slot changes when the
// worker is restarted under another framework; the index does not.
type slot struct {
	index     int
	framework string
	cmd       *exec.Cmd
	ch        *channel.Channel
}

// startWorker launches a worker bound to framework in slot index. The
// worker reads from fd 3 and writes to fd 4.
func (r *Runner) startWorker(ctx context.Context, launcher *proc.Launcher, index int, framework string) error {
	ours, theirs, err := channel.Pipe()
	if err != nil {
		return err
	}

	cmd := launcher.With("TEST_ENV_NUMBER="+strconv.Itoa(index)).
		Command(ctx, RoleWorker, r.id, strconv.Itoa(index), framework)
	cmd.ExtraFiles = theirs.Files()
	cmd.Stderr = r.WorkerStderr

	if err := cmd.Start(); err != nil {
		_ = ours.Close()
		_ = theirs.Close()
		return fmt.Errorf("start worker %d (%s): %w", index, framework, err)
	}
	_ = theirs.Close()

	slog.Debug("worker started", "runner", r.id, "index", index, "framework", framework, "pid", cmd.Process.Pid)
	s := &slot{index: index, framework: framework, cmd: cmd, ch: ours}
	r.slots[index] = s
	r.started = append(r.started, s)
	return nil
}

// closeWorker tells the worker to exit and forgets the slot.
func (r *Runner) closeWorker(s *slot) {
	_ = s.ch.Write(channel.NewMessage(channel.CmdClose))
	r.drop(s)
}

func (r *Runner) drop(s *slot) {
	if cur, ok := r.slots[s.index]; ok && cur == s {
		delete(r.slots, s.index)
	}
	_ = s.ch.Close()
}

// channels lists the worker channels in slot order, then the master's.
func (r *Runner) channels() []*channel.Channel {
	indexes := make([]int, 0, len(r.slots))
	for i := range r.slots {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	chans := make([]*channel.Channel, 0, len(indexes)+1)
	for _, i := range indexes {
		chans = append(chans, r.slots[i].ch)
	}
	return append(chans, r.upstream)
}

func (r *Runner) slotOf(ch *channel.Channel) *slot {
	for _, s := range r.slots {
		if s.ch == ch {
			return s
		}
	}
	return nil
}

// killWorkers asks every worker still running to kill its file in flight
// and exit, then waits for all of them.
func (r *Runner) killWorkers() {
	for _, s := range r.started {
		if s.cmd.ProcessState == nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(proc.StopWorkerSignal)
		}
		_ = s.ch.Close()
	}
	r.slots = make(map[int]*slot)
	r.waitWorkers()
}

// waitWorkers reaps every worker process this runner started.
func (r *Runner) waitWorkers() {
	for _, s := range r.started {
		if s.cmd.ProcessState != nil {
			continue
		}
		if err := s.cmd.Wait(); err != nil {
			slog.Debug("worker exited", "runner", r.id, "index", s.index, "error", err)
		}
	}
}
