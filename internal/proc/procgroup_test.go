//go:build !windows

package proc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// gone polls until no process in the group led by pid is left.
func gone(pid int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(-pid, 0); err != nil {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestSetupProcessGroup_CancelKillsFrameworkHelpers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a file whose framework leaves a helper server running behind it
	pidFile := filepath.Join(t.TempDir(), "helper.pid")
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 60 & echo $! > "+pidFile+"; echo 'ok 1'; sleep 60")
	SetupProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	var helper int
	deadline := time.Now().Add(5 * time.Second)
	for helper == 0 && time.Now().Before(deadline) {
		if data, err := os.ReadFile(pidFile); err == nil {
			helper, _ = strconv.Atoi(strings.TrimSpace(string(data)))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if helper == 0 {
		t.Fatal("helper never started")
	}

	cancel()
	_ = cmd.Wait()

	if !gone(pid) {
		t.Errorf("process group %d still alive after cancel", pid)
	}
}

func TestSetupProcessGroup_SetsAttributes(t *testing.T) {
	cmd := exec.Command("true")
	SetupProcessGroup(cmd)

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatal("Setpgid not set")
	}
	if cmd.Cancel == nil {
		t.Error("Cancel function not set")
	}
}

func TestSetupProcessGroup_NormalExit(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "sh", "-c", "echo 'ok 1 - passes'")
	SetupProcessGroup(cmd)

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("expected clean exit, got: %v", err)
	}
	if !strings.Contains(string(out), "ok 1") {
		t.Errorf("output: %q", out)
	}
}

func TestSetupProcessGroup_CancelBeforeStart(t *testing.T) {
	cmd := exec.Command("no-such-test-framework")
	SetupProcessGroup(cmd)

	if err := cmd.Cancel(); err != nil {
		t.Errorf("cancel of an unstarted command: %v", err)
	}
}

func TestKillGroup_TerminatesGroup(t *testing.T) {
	cmd := exec.CommandContext(t.Context(), "sh", "-c", "sleep 60 & sleep 60")
	SetupProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	if !Alive(pid) {
		t.Fatalf("process %d not alive after start", pid)
	}
	if err := KillGroup(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill group: %v", err)
	}
	_ = cmd.Wait()

	if !gone(pid) {
		t.Errorf("process group %d still alive after KillGroup", pid)
	}
	// already gone: no error
	if err := KillGroup(pid, syscall.SIGKILL); err != nil {
		t.Errorf("second KillGroup: %v", err)
	}
}

func TestSignalName(t *testing.T) {
	if got := SignalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SignalName(SIGTERM) = %q", got)
	}
	if got := SignalName(StopWorkerSignal); !strings.HasPrefix(got, "SIG") {
		t.Errorf("SignalName(StopWorkerSignal) = %q", got)
	}
}
