package supervisor

import (
	"errors"
	"os"
	"syscall"
)

// isProcessAlive probes the OS process table without side effects on the
// target. Signal 0 performs permission and existence checks only; EPERM means
// the process exists but belongs to someone else, which still counts as alive.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
