package process

import (
	"errors"
	"os/exec"
	"strings"
)

// ErrEmptyCommand is returned by Spawn when Spec.Command is blank.
var ErrEmptyCommand = errors.New("process: empty command")

// Spec describes one spawn of the supervised child.
type Spec struct {
	Name    string   `json:"name"`     // label for logs
	Command string   `json:"command"`  // executable, resolved through PATH
	Args    []string `json:"args"`     // argv after the executable
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // full environment; nil inherits the supervisor's
}

// BuildCommand constructs an *exec.Cmd for the spec. Arguments are passed
// as argv, never through a shell, so passthrough flags keep their quoting.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	name := strings.TrimSpace(s.Command)
	if name == "" {
		return nil, ErrEmptyCommand
	}
	// ok: intentional execution of the user's package manager
	// #nosec G204
	cmd := exec.Command(name, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	return cmd, nil
}

// String renders the command line for logs.
func (s *Spec) String() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}
