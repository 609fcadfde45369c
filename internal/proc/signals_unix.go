//go:build !windows

package proc

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// TerminateSignals request a cooperative stop.
var TerminateSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// StopWorkerSignal is sent by a runner to its workers to make them kill the
// file in flight and exit.
var StopWorkerSignal os.Signal = unix.SIGUSR1

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	return sig.String()
}
