//go:build windows

package proc

import (
	"os"
	"os/exec"
)

// SetupProcessGroup is a no-op on Windows where Setpgid is unavailable.
// Process cleanup relies on cmd.Process.Kill() via the default Cancel behavior.
func SetupProcessGroup(cmd *exec.Cmd) {
	// Windows does not support Unix process groups.
	// The default exec.CommandContext cancel (SIGKILL on process) is used instead.
}

// KillGroup kills the single process pid; Windows has no process groups.
func KillGroup(pid int, _ os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// InheritedFile wraps a descriptor handed down by the parent process.
func InheritedFile(fd uintptr, name string) *os.File {
	return os.NewFile(fd, name)
}
