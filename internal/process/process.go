package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWaitDelay bounds how long Wait keeps draining stdout/stderr after the
// child exits, in case a forked helper still holds the pipes open.
const DefaultWaitDelay = 2 * time.Second

// Stream identifies which child stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// OutputFunc receives each complete line of child output (without the newline).
// It is called from the stream copy goroutines.
type OutputFunc func(p *Process, s Stream, line string)

// ExitFunc is called exactly once per spawn, after both streams drained.
type ExitFunc func(p *Process, e Exit)

// Manager spawns children and wires their streams. It holds no per-child
// state besides a generation counter; each spawn returns its own *Process.
type Manager struct {
	Stdout    io.Writer // verbatim copy of child stdout
	Stderr    io.Writer // verbatim copy of child stderr
	Stdin     io.Reader // inherited by the child; *os.File passes the fd straight through
	WaitDelay time.Duration

	gen atomic.Uint64
	log *slog.Logger
}

func NewManager(stdout, stderr io.Writer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{Stdout: stdout, Stderr: stderr, Stdin: os.Stdin, WaitDelay: DefaultWaitDelay, log: log}
}

// Process is the handle for one spawned child.
type Process struct {
	spec  Spec
	gen   uint64
	cmd   *exec.Cmd
	pid   int
	pgid  int
	state atomic.Int32

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	done      chan struct{}
	exit      Exit
	log       *slog.Logger
}

// Spawn starts spec in its own process group. Output lines go to onOutput in
// arrival order per stream; onExit fires once the child is reaped.
func (m *Manager) Spawn(spec Spec, onOutput OutputFunc, onExit ExitFunc) (*Process, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	p := &Process{spec: spec, gen: m.gen.Add(1), cmd: cmd, done: make(chan struct{}), log: m.log}
	p.state.Store(int32(StateSpawning))

	outLines := newLineWriter(func(l string) {
		if onOutput != nil {
			onOutput(p, Stdout, l)
		}
	})
	errLines := newLineWriter(func(l string) {
		if onOutput != nil {
			onOutput(p, Stderr, l)
		}
	})
	cmd.Stdin = m.Stdin
	cmd.Stdout = tee(m.Stdout, outLines)
	cmd.Stderr = tee(m.Stderr, errLines)
	cmd.WaitDelay = m.WaitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		p.state.Store(int32(StateExited))
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	p.mu.Lock()
	p.pid = cmd.Process.Pid
	p.pgid = cmd.Process.Pid // Setsid makes the child its own session and group leader
	p.startedAt = time.Now()
	p.mu.Unlock()
	p.state.CompareAndSwap(int32(StateSpawning), int32(StateRunning))

	go func() {
		err := cmd.Wait()
		outLines.Flush()
		errLines.Flush()
		e := exitFrom(cmd.ProcessState, err)
		p.mu.Lock()
		p.stoppedAt = time.Now()
		p.exit = e
		p.mu.Unlock()
		p.state.Store(int32(StateExited))
		close(p.done)
		if onExit != nil {
			onExit(p, e)
		}
	}()
	return p, nil
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) State() State { return State(p.state.Load()) }

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:      p.spec.Name,
		Gen:       p.gen,
		PID:       p.pid,
		PGID:      p.pgid,
		State:     p.State(),
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
}

// Terminate signals the child's whole process group: SIGTERM, or SIGKILL when
// force is set. If group signalling fails it walks the descendants, and as a
// last resort signals the single process. A child that already exited is not
// an error.
func (p *Process) Terminate(force bool) error {
	if p.State() == StateExited {
		return nil
	}
	p.state.CompareAndSwap(int32(StateRunning), int32(StateExiting))
	p.mu.Lock()
	pid, pgid := p.pid, p.pgid
	p.mu.Unlock()

	gerr := signalGroup(pgid, force)
	if gerr == nil {
		return nil
	}
	p.log.Debug("group signal failed, walking process tree", "pid", pid, "error", gerr)
	terr := killTree(pid, force)
	if terr == nil {
		return nil
	}
	perr := signalOne(p.cmd.Process, force)
	if perr == nil || errors.Is(perr, os.ErrProcessDone) || p.State() == StateExited {
		return nil
	}
	return fmt.Errorf("terminate pid %d: %w", pid, errors.Join(gerr, terr, perr))
}

// Wait blocks until the child is reaped or d elapses; it reports whether the
// child exited in time.
func (p *Process) Wait(d time.Duration) (Exit, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exit, true
	case <-t.C:
		return Exit{}, false
	}
}

func exitFrom(ps *os.ProcessState, err error) Exit {
	if ps == nil {
		return Exit{Code: -1, Err: err}
	}
	e := Exit{Code: ps.ExitCode(), Signal: exitSignal(ps)}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		// I/O copy errors or ErrWaitDelay; the exit status itself is still valid
		e.Err = err
	}
	return e
}

func signalOne(proc *os.Process, force bool) error {
	if proc == nil {
		return os.ErrProcessDone
	}
	if force {
		return proc.Kill()
	}
	return proc.Signal(termSignal())
}

func tee(w io.Writer, lw *lineWriter) io.Writer {
	if w == nil {
		return lw
	}
	return io.MultiWriter(w, lw)
}
