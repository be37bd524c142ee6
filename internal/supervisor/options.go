package supervisor

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/revivr/internal/env"
	"github.com/loykin/revivr/internal/history"
)

// Option configures the Supervisor
type Option func(*Supervisor)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithCleaner sets the cache cleaner run before respawns
func WithCleaner(c Cleaner) Option {
	return func(s *Supervisor) {
		s.cleaner = c
	}
}

// WithNotifier sets the desktop notifier
func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) {
		s.notifier = n
	}
}

// WithModuleWatcher sets the watcher armed on missing-module errors
func WithModuleWatcher(w ModuleWatcher) Option {
	return func(s *Supervisor) {
		s.watcher = w
	}
}

// WithLogger sets the supervisor logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

// WithReport sets where the session summary is written and how it is styled.
// A nil renderer writes plain text.
func WithReport(w io.Writer, r *lipgloss.Renderer) Option {
	return func(s *Supervisor) {
		s.reportOut = w
		s.renderer = r
	}
}

// WithEnv sets the environment base for spawned children
func WithEnv(e *env.Env) Option {
	return func(s *Supervisor) {
		s.env = e
	}
}

// WithHistory records spawns, restarts and the session end to h. Send is
// called from the event loop, so h must not block; wrap database sinks with
// history.NewAsync.
func WithHistory(h history.Sink) Option {
	return func(s *Supervisor) {
		s.history = h
	}
}
