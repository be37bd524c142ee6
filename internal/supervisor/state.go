package supervisor

// State is the restart scheduler's position.
type State int

const (
	StateIdle       State = iota // child running, nothing pending
	StateDebouncing              // restart requested, waiting for the burst to settle
	StateKilling                 // terminate sent, waiting for the exit
	StateSpawning                // child gone, waiting out the restart delay
	StateStopping                // interrupt received, waiting for the exit
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateKilling:
		return "killing"
	case StateSpawning:
		return "spawning"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
