package report

import (
	"time"

	"github.com/google/uuid"
)

// Stats accumulates what happened during one supervisor run. It is only
// appended to; nothing resets it before the final render.
type Stats struct {
	SessionID  string
	Start      time.Time
	Restarts   int
	PortShifts int
	Categories map[string]int
	Intervals  []time.Duration

	lastRestart time.Time
}

func NewStats(start time.Time) *Stats {
	return &Stats{
		SessionID:  uuid.NewString(),
		Start:      start,
		Categories: make(map[string]int),
	}
}

// RecordSignal counts one classified line under its category.
func (s *Stats) RecordSignal(category string) {
	if category == "" {
		return
	}
	s.Categories[category]++
}

// RecordRestart counts a restart and tracks the interval since the previous one.
func (s *Stats) RecordRestart(now time.Time) {
	if !s.lastRestart.IsZero() {
		s.Intervals = append(s.Intervals, now.Sub(s.lastRestart))
	}
	s.lastRestart = now
	s.Restarts++
}

// MeanInterval is the average time between restarts; ok is false with fewer
// than two restarts.
func (s *Stats) MeanInterval() (time.Duration, bool) {
	if len(s.Intervals) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range s.Intervals {
		sum += d
	}
	return sum / time.Duration(len(s.Intervals)), true
}

// Total returns the number of classified signals across all categories.
func (s *Stats) Total() int {
	n := 0
	for _, c := range s.Categories {
		n += c
	}
	return n
}
