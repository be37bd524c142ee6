//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// signalGroup sends SIGTERM (or SIGKILL) to every process in the group.
func signalGroup(pgid int, force bool) error {
	if pgid <= 0 {
		return errors.New("no process group")
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	return syscall.Kill(-pgid, sig)
}

func termSignal() os.Signal { return syscall.SIGTERM }

// exitSignal returns the signal that killed the child, if any.
func exitSignal(ps *os.ProcessState) os.Signal {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal()
	}
	return nil
}
