package supervisor

import (
	"github.com/loykin/revivr/internal/process"
)

// EventType tags an Event.
type EventType int

const (
	EventOutput EventType = iota
	EventChildExited
	EventInterrupt
	EventTimerFired
	EventModuleInstalled
	EventRestartRequested
)

func (t EventType) String() string {
	switch t {
	case EventOutput:
		return "output"
	case EventChildExited:
		return "child-exited"
	case EventInterrupt:
		return "interrupt"
	case EventTimerFired:
		return "timer-fired"
	case EventModuleInstalled:
		return "module-installed"
	case EventRestartRequested:
		return "restart-requested"
	default:
		return "unknown"
	}
}

// TimerKind names the one-shot timers the supervisor arms. At most one timer
// of each kind is pending.
type TimerKind int

const (
	TimerDebounce TimerKind = iota
	TimerEscalate
	TimerRespawn
	TimerShutdown
)

func (k TimerKind) String() string {
	switch k {
	case TimerDebounce:
		return "debounce"
	case TimerEscalate:
		return "escalate"
	case TimerRespawn:
		return "respawn"
	case TimerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is everything that can change supervisor state. Which fields are set
// depends on Type.
type Event struct {
	Type EventType

	Gen  uint64       // Output, ChildExited: spawn generation the event belongs to
	Line string       // Output
	Exit process.Exit // ChildExited

	Timer TimerKind // TimerFired
	Seq   uint64    // TimerFired: arm sequence; stale fires are dropped

	Module string // ModuleInstalled
}
