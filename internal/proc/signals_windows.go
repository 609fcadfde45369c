//go:build windows

package proc

import "os"

// TerminateSignals request a cooperative stop.
var TerminateSignals = []os.Signal{os.Interrupt}

// StopWorkerSignal falls back to a hard kill on Windows.
var StopWorkerSignal os.Signal = os.Kill

// SignalName returns the conventional name of sig.
func SignalName(sig os.Signal) string {
	if sig == os.Interrupt {
		return "SIGINT"
	}
	return sig.String()
}
