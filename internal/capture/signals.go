package capture

import (
	"os"
	"syscall"
)

// captureSignals request a graceful drain. The fault signals are included
// so that a crash in the driver still leaves a finalised file where the
// runtime lets us observe them.
var captureSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGILL,
	syscall.SIGFPE,
	syscall.SIGABRT,
}
