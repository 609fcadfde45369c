package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/testforge/internal/channel"
	"github.com/ppiankov/testforge/internal/proc"
)

// outputGrace bounds how long output pipes may stay open after the exec
// process exits, e.g. when a framework leaves a background helper behind.
const outputGrace = 10 * time.Second

// processFile runs filename in a fresh exec process. Retries are relayed
// as they happen; the result is held until the process has exited and its
// output is drained, then sent followed by the captured output.
func (w *Worker) processFile(ctx context.Context, filename string) error {
	w.debug("Starting to process " + filename)

	r, wr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create exec pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := w.launcher.Command(ctx, RoleExec, w.adapter.Name(), w.On(), filename)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.ExtraFiles = []*os.File{wr}
	cmd.WaitDelay = outputGrace
	proc.SetupProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = wr.Close()
		return w.ch.Write(w.crashResult(filename, fmt.Sprintf("start exec process: %v", err)))
	}
	_ = wr.Close()
	w.setInflight(cmd)
	slog.Debug("exec started", "file", filename, "pid", cmd.Process.Pid)

	var result channel.Message
	var readErr error
	execCh := channel.New(r, nil)
	for {
		msg, err := execCh.Read()
		if err != nil {
			readErr = err
			break
		}
		if msg == nil {
			break
		}
		if msg.Command() == channel.CmdResult {
			result = msg
			continue
		}
		if err := w.ch.Write(msg); err != nil {
			_ = execCh.Close()
			_ = cmd.Wait()
			w.setInflight(nil)
			return err
		}
	}
	_ = execCh.Close()

	waitErr := cmd.Wait()
	w.setInflight(nil)

	if result == nil {
		reason := "exec process exited without a result"
		switch {
		case readErr != nil:
			reason = readErr.Error()
		case waitErr != nil:
			reason = fmt.Sprintf("exec process exited without a result: %v", waitErr)
		}
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			reason += "\n" + tail
		}
		result = w.crashResult(filename, reason)
	}
	if err := w.ch.Write(result); err != nil {
		return err
	}

	if stdout.Len() > 0 && w.cfg.Debug {
		if err := w.ch.Write(channel.NewMessage(channel.CmdStdout,
			"process", filename,
			"text", stdout.String(),
			"on", w.On())); err != nil {
			return err
		}
	}
	if stderr.Len() > 0 {
		if err := w.ch.Write(channel.NewMessage(channel.CmdStderr,
			"process", filename,
			"text", stderr.String(),
			"on", w.On())); err != nil {
			return err
		}
	}
	return nil
}

// crashResult stands in for the result of an exec process that died
// before reporting one, so the file still counts as completed and failed.
func (w *Worker) crashResult(filename, reason string) channel.Message {
	return channel.NewMessage(channel.CmdResult,
		"framework", w.adapter.Name(),
		"filename", filename,
		"on", w.On(),
		"test_count", 0,
		"failure_count", 0,
		"failed", true,
		"text", fmt.Sprintf("Exception when running %s: %s\n", filename, reason))
}
