//go:build !windows

package proc

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetupProcessGroup puts the child process in its own process group and
// overrides cmd.Cancel to kill the entire group on context cancellation.
// Test frameworks fork helpers of their own; killing the group takes them
// down with the file that started them.
func SetupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return KillGroup(cmd.Process.Pid, unix.SIGKILL)
		}
		return nil
	}
}

// KillGroup signals every process in the group led by pid.
func KillGroup(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = unix.SIGKILL
	}
	err := unix.Kill(-pid, s)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// InheritedFile wraps a descriptor handed down by the parent process. The
// descriptor is marked close-on-exec so it does not leak into processes this
// one starts; a leaked write end would keep the parent from seeing EOF.
func InheritedFile(fd uintptr, name string) *os.File {
	unix.CloseOnExec(int(fd))
	return os.NewFile(fd, name)
}
