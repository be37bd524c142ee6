package process

import (
	"errors"
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killTree signals pid and all of its descendants, children first. It is the
// fallback for platforms or states where group signalling is unavailable.
func killTree(pid int, force bool) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	var errs []error
	if children, err := proc.Children(); err == nil {
		for _, c := range children {
			errs = append(errs, killTree(int(c.Pid), force))
		}
	}
	if force {
		err = proc.Kill()
	} else {
		err = proc.Terminate()
	}
	errs = append(errs, err)
	return errors.Join(errs...)
}
