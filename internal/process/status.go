package process

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// State is the lifecycle of one spawned child.
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateExiting // termination requested, exit not yet observed
	StateExited
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateSpawning; st <= StateExited; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", b)
}

// Status is a point-in-time copy of a child's bookkeeping.
type Status struct {
	Name      string    `json:"name"`
	Gen       uint64    `json:"gen"`
	PID       int       `json:"pid"`
	PGID      int       `json:"pgid"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// Exit describes how a child ended. Code is -1 when it was killed by a signal.
type Exit struct {
	Code   int
	Signal os.Signal
	Err    error
}

// Clean reports an exit the supervisor should treat as a deliberate shutdown:
// status 0, or death by interrupt.
func (e Exit) Clean() bool {
	return e.Code == 0 || e.Signal == os.Interrupt
}

func (e Exit) String() string {
	if e.Signal != nil {
		return "signal " + e.Signal.String()
	}
	return "exit code " + strconv.Itoa(e.Code)
}
