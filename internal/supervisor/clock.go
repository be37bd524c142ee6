package supervisor

import "time"

// Timer is the part of *time.Timer the supervisor uses.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the state machine can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is backed by the time package.
var RealClock Clock = realClock{}
