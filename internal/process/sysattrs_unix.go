//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the child in a new session. It leads its own
// process group, so the whole tree (bundler workers included) can be
// signalled at once, and without a controlling terminal a read of the
// inherited tty stdin is never stopped by SIGTTIN. Ctrl+C reaches only the
// supervisor, which forwards it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
