package supervisor

import (
	"github.com/loykin/revivr/internal/process"
)

// Child is a running spawn as seen by the supervisor.
type Child interface {
	PID() int
	Snapshot() process.Status
	// Terminate signals the child's process tree; force selects SIGKILL.
	Terminate(force bool) error
}

// Launcher starts one child. onLine and onExit may be called from other
// goroutines; onExit is called exactly once.
type Launcher interface {
	Launch(spec process.Spec, onLine func(string), onExit func(process.Exit)) (Child, error)
}

// ProcessLauncher launches real processes through a process.Manager.
type ProcessLauncher struct {
	M *process.Manager
}

func (l ProcessLauncher) Launch(spec process.Spec, onLine func(string), onExit func(process.Exit)) (Child, error) {
	p, err := l.M.Spawn(spec,
		func(_ *process.Process, _ process.Stream, line string) { onLine(line) },
		func(_ *process.Process, e process.Exit) { onExit(e) },
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Cleaner removes build caches before a respawn.
type Cleaner interface {
	Clean() error
}

// Notifier surfaces a message outside the terminal.
type Notifier interface {
	Notify(title, msg string)
}

// ModuleWatcher reports when a missing package gets installed.
type ModuleWatcher interface {
	Watch(module string, onInstalled func()) error
	Close() error
}
