package supervisor

import "time"

// CrashWindow holds restart timestamps no older than span.
type CrashWindow struct {
	span  time.Duration
	times []time.Time
}

func NewCrashWindow(span time.Duration) *CrashWindow {
	return &CrashWindow{span: span}
}

// Add records a restart at now and drops entries that fell out of the window.
func (w *CrashWindow) Add(now time.Time) {
	w.times = append(w.times, now)
	w.prune(now)
}

// Len is the number of restarts inside the window as of the last Add.
func (w *CrashWindow) Len() int { return len(w.times) }

func (w *CrashWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	w.times = w.times[i:]
}
