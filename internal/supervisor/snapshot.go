package supervisor

import (
	"maps"
	"time"

	"github.com/loykin/revivr/internal/process"
)

// Snapshot is a copy of the session state for readers outside the Run
// goroutine.
type Snapshot struct {
	SessionID  string          `json:"session_id"`
	State      string          `json:"state"`
	PM         string          `json:"pm"`
	Script     string          `json:"script"`
	PID        int             `json:"pid,omitempty"`
	Child      *process.Status `json:"child,omitempty"`
	Gen        uint64          `json:"gen"`
	Port       int             `json:"port,omitempty"`
	Pending    string          `json:"pending,omitempty"`
	Restarts   int             `json:"restarts"`
	PortShifts int             `json:"port_shifts"`
	Categories map[string]int  `json:"categories"`
	StartedAt  time.Time       `json:"started_at"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	EndReason  string          `json:"end_reason,omitempty"`
}

// Snapshot returns the state as of the last handled event. Safe from any
// goroutine.
func (s *Supervisor) Snapshot() Snapshot {
	if p := s.snap.Load(); p != nil {
		return *p
	}
	return Snapshot{SessionID: s.stats.SessionID, State: "starting", PM: s.cfg.PM, Script: s.cfg.Script}
}

func (s *Supervisor) publish() {
	snap := &Snapshot{
		SessionID:  s.stats.SessionID,
		State:      s.state.String(),
		PM:         s.cfg.PM,
		Script:     s.cfg.Script,
		Gen:        s.gen,
		Port:       s.override,
		Pending:    s.intent,
		Restarts:   s.stats.Restarts,
		PortShifts: s.stats.PortShifts,
		Categories: maps.Clone(s.stats.Categories),
		StartedAt:  s.stats.Start,
	}
	if s.child != nil {
		st := s.child.Snapshot()
		snap.PID = st.PID
		snap.Child = &st
	}
	if s.state == StateDone {
		code := s.code
		snap.ExitCode = &code
		snap.EndReason = s.reason
	}
	s.snap.Store(snap)
}
