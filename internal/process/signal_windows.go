//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no signal delivery to process groups; Terminate falls through
// to the descendant walk.
func signalGroup(pgid int, force bool) error {
	return errors.ErrUnsupported
}

// os.Process.Signal only supports Kill on Windows.
func termSignal() os.Signal { return os.Kill }

func exitSignal(ps *os.ProcessState) os.Signal { return nil }
