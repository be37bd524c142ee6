package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/revivr/internal/classifier"
	"github.com/loykin/revivr/internal/env"
	"github.com/loykin/revivr/internal/history"
	"github.com/loykin/revivr/internal/logger"
	"github.com/loykin/revivr/internal/metrics"
	"github.com/loykin/revivr/internal/pm"
	"github.com/loykin/revivr/internal/port"
	"github.com/loykin/revivr/internal/process"
	"github.com/loykin/revivr/internal/report"
	"github.com/loykin/revivr/internal/watcher"
)

// Restart reasons that are not classifier categories.
const (
	reasonCrash  = "crash"  // exit nobody asked for
	reasonManual = "manual" // RequestRestart
)

const eventBuffer = 1024

type armedTimer struct {
	t   Timer
	seq uint64
}

// Supervisor keeps one dev server alive. All state is owned by the goroutine
// running Run; other goroutines only post events.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	clock    Clock
	cleaner  Cleaner
	notifier Notifier
	watcher  ModuleWatcher
	history  history.Sink
	env      *env.Env
	log      *slog.Logger

	reportOut io.Writer
	renderer  *lipgloss.Renderer

	events   chan Event
	quit     chan struct{}
	quitOnce sync.Once

	state  State
	child  Child
	gen    uint64
	timers map[TimerKind]armedTimer
	seq    uint64

	intent      string // reason of the pending restart
	blockedPort int    // port named by the pending port-conflict intent
	override    int    // port injected into every spawn once a shift happened
	portStreak  int    // consecutive port shifts without a ready line
	budget      int    // counted restarts
	window      *CrashWindow
	recovering  bool
	readySeen   bool
	interrupts  int
	watching    map[string]bool

	stats  *report.Stats
	code   int
	reason string

	snap atomic.Pointer[Snapshot]
}

// New creates a supervisor for cfg. Zero durations and limits in cfg fall
// back to the defaults.
func New(cfg Config, l Launcher, opts ...Option) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:       cfg,
		launcher:  l,
		clock:     RealClock,
		log:       slog.Default(),
		reportOut: os.Stderr,
		events:    make(chan Event, eventBuffer),
		quit:      make(chan struct{}),
		timers:    make(map[TimerKind]armedTimer),
		window:    NewCrashWindow(cfg.CrashWindow),
		watching:  make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	if s.env == nil {
		s.env = env.New()
	}
	s.stats = report.NewStats(s.clock.Now())
	return s
}

// Stats exposes the session counters. Only read them after Run returned.
func (s *Supervisor) Stats() *report.Stats { return s.stats }

// State is the current scheduler state. Only meaningful from the Run goroutine
// or after Run returned.
func (s *Supervisor) State() State { return s.state }

// Interrupt asks the supervisor to shut down. Safe from any goroutine; a
// second call forces the child down.
func (s *Supervisor) Interrupt() { s.post(Event{Type: EventInterrupt}) }

// RequestRestart schedules a restart as if an error had been seen. Safe from
// any goroutine.
func (s *Supervisor) RequestRestart() { s.post(Event{Type: EventRestartRequested}) }

// Run cleans, spawns the child and processes events until the session ends.
// It returns the process exit code: 0 for a clean or interrupted session,
// 1 for crash loops, exhausted budgets and spawn failures. Cancelling ctx
// counts as one interrupt.
func (s *Supervisor) Run(ctx context.Context) int {
	s.start()
	done := ctx.Done()
	for s.state != StateDone {
		select {
		case ev := <-s.events:
			s.HandleEvent(ev)
		case <-done:
			done = nil
			s.HandleEvent(Event{Type: EventInterrupt})
		}
	}
	return s.code
}

func (s *Supervisor) start() {
	s.log.Info("starting", "session", s.stats.SessionID, "pm", s.cfg.PM, "script", s.cfg.Script)
	if s.cfg.CleanOnStart {
		s.clean()
	}
	s.spawn()
	s.publish()
}

// HandleEvent applies one event. It must only be called from the goroutine
// that owns the supervisor.
func (s *Supervisor) HandleEvent(ev Event) {
	if s.state == StateDone {
		return
	}
	switch ev.Type {
	case EventOutput:
		if !s.onOutput(ev) {
			return
		}
	case EventChildExited:
		s.onExit(ev)
	case EventInterrupt:
		s.onInterrupt()
	case EventTimerFired:
		s.onTimer(ev)
	case EventModuleInstalled:
		s.onModuleInstalled(ev)
	case EventRestartRequested:
		s.request(reasonManual, 0)
	}
	s.publish()
}

func (s *Supervisor) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// onOutput reports whether the line changed anything.
func (s *Supervisor) onOutput(ev Event) bool {
	if ev.Gen != s.gen {
		return false
	}
	m := classifier.Classify(ev.Line)
	switch m.Category {
	case classifier.None:
		return false
	case classifier.Ready:
		s.onReady()
		return true
	}
	s.stats.RecordSignal(m.Category.String())
	metrics.IncSignal(m.Category.String())
	s.log.Debug("signal", "category", m.Category, "label", m.Label)

	switch m.Category {
	case classifier.CacheCorruption, classifier.PortConflict:
		s.request(m.Category.String(), m.Port)
	case classifier.MissingModule:
		s.onMissingModule(m.Module)
	}
	return true
}

// request arms a restart. Signals arriving while one is already pending or in
// progress are absorbed into it.
func (s *Supervisor) request(reason string, blocked int) {
	if s.state != StateIdle {
		s.log.Debug("restart already pending", "state", s.state, "reason", reason)
		return
	}
	s.state = StateDebouncing
	s.intent = reason
	s.blockedPort = blocked
	s.arm(TimerDebounce, s.cfg.Debounce)
	s.log.Warn("restart scheduled", "reason", reason, "in", report.FormatDuration(s.cfg.Debounce))
}

func (s *Supervisor) onReady() {
	if s.readySeen {
		return
	}
	s.readySeen = true
	if !s.recovering {
		s.log.Info("ready")
		return
	}
	s.recovering = false
	s.portStreak = 0
	logger.Success(s.log, "recovered", "restarts", s.stats.Restarts)
	s.notify("dev server recovered after " + strconv.Itoa(s.stats.Restarts) + " restart(s)")
}

func (s *Supervisor) onMissingModule(module string) {
	if s.watcher == nil || s.watching[module] {
		s.log.Warn("missing module", "module", module, "fix", pm.InstallHint(s.cfg.PM, module))
		return
	}
	err := s.watcher.Watch(module, func() {
		s.post(Event{Type: EventModuleInstalled, Module: module})
	})
	switch {
	case errors.Is(err, watcher.ErrInstalled):
		// the package is there; the import itself is wrong
		s.log.Warn("cannot resolve import of installed module", "module", module)
		return
	case err != nil:
		s.log.Debug("cannot watch for module install", "module", module, "error", err)
	default:
		s.watching[module] = true
	}
	s.log.Warn("missing module", "module", module, "fix", pm.InstallHint(s.cfg.PM, module))
}

func (s *Supervisor) onModuleInstalled(ev Event) {
	delete(s.watching, ev.Module)
	s.log.Info("module installed", "module", ev.Module)
	s.request(classifier.MissingModule.String(), 0)
}

func (s *Supervisor) onTimer(ev Event) {
	at, ok := s.timers[ev.Timer]
	if !ok || at.seq != ev.Seq {
		return
	}
	delete(s.timers, ev.Timer)

	switch ev.Timer {
	case TimerDebounce:
		if s.state != StateDebouncing {
			return
		}
		s.state = StateKilling
		s.log.Info("restarting", "reason", s.intent)
		s.terminate(false)
		s.arm(TimerEscalate, s.cfg.KillGrace)
	case TimerEscalate:
		if s.state != StateKilling {
			return
		}
		s.log.Warn("child ignored SIGTERM, killing", "grace", report.FormatDuration(s.cfg.KillGrace))
		s.terminate(true)
	case TimerRespawn:
		if s.state == StateSpawning {
			s.spawn()
		}
	case TimerShutdown:
		if s.state != StateStopping {
			return
		}
		s.log.Warn("child did not stop in time, killing")
		s.terminate(true)
		s.finish(0, "interrupted")
	}
}

func (s *Supervisor) onExit(ev Event) {
	if ev.Gen != s.gen {
		return
	}
	s.child = nil
	metrics.SetRunning(false)

	switch s.state {
	case StateStopping:
		s.finish(0, "interrupted")
	case StateKilling:
		s.cancel(TimerEscalate)
		s.afterExit(s.intent)
	case StateDebouncing:
		// The exit consumes the pending intent: one restart, not two.
		s.cancel(TimerDebounce)
		s.log.Info("child exited while restart pending", "exit", ev.Exit.String())
		s.afterExit(s.intent)
	case StateIdle:
		if ev.Exit.Clean() {
			s.finish(0, "dev server exited ("+ev.Exit.String()+")")
			return
		}
		s.log.Error("dev server crashed", "exit", ev.Exit.String())
		s.stats.RecordSignal(reasonCrash)
		metrics.IncSignal(reasonCrash)
		s.afterExit(reasonCrash)
	}
}

// afterExit runs the restart policy once the child is gone.
func (s *Supervisor) afterExit(reason string) {
	now := s.clock.Now()
	blocked := s.blockedPort
	s.intent, s.blockedPort = "", 0

	shift := reason == classifier.PortConflict.String() && port.Valid(blocked)
	if shift {
		s.override = port.Next(blocked)
		s.portStreak++
		s.stats.PortShifts++
		s.log.Warn("port in use, shifting", "from", blocked, "to", s.override)
	} else if s.override > 0 {
		// the shifted spawn has exited; later spawns use the configured args
		s.log.Debug("dropping port override", "port", s.override)
		s.override = 0
	}

	// the attempt is counted before the loop checks, so a fatal one shows in the report
	n := len(s.stats.Intervals)
	s.stats.RecordRestart(now)
	if len(s.stats.Intervals) > n {
		metrics.ObserveRestartInterval(s.stats.Intervals[n])
	}

	if !shift || s.portStreak > s.cfg.MaxPortShifts {
		s.window.Add(now)
		if s.window.Len() >= s.cfg.CrashThreshold {
			metrics.IncCrashLoop()
			s.finish(1, fmt.Sprintf("crash loop detected (%d restarts within %s)", s.window.Len(), report.FormatDuration(s.cfg.CrashWindow)))
			return
		}
		if s.budget >= s.cfg.MaxRestarts {
			s.finish(1, fmt.Sprintf("restart limit reached (%d)", s.cfg.MaxRestarts))
			return
		}
		s.budget++
	}
	metrics.IncRestart(reason)
	s.record(history.Event{Type: history.EventRestart, Reason: reason, Port: s.override})

	if s.cfg.CleanOnCrash && (reason == classifier.CacheCorruption.String() || reason == reasonCrash) {
		s.clean()
	}
	s.recovering = true
	s.state = StateSpawning
	s.arm(TimerRespawn, s.cfg.RestartDelay)
}

func (s *Supervisor) onInterrupt() {
	s.interrupts++
	if s.state == StateStopping || s.interrupts > 1 {
		s.log.Warn("forcing shutdown")
		s.terminate(true)
		s.finish(0, "interrupted")
		return
	}
	s.cancelAll()
	s.intent, s.blockedPort = "", 0
	if s.child == nil {
		s.finish(0, "interrupted")
		return
	}
	s.log.Info("stopping", "grace", report.FormatDuration(s.cfg.KillGrace))
	s.state = StateStopping
	s.terminate(false)
	s.arm(TimerShutdown, s.cfg.KillGrace)
}

func (s *Supervisor) spawn() {
	extra := s.cfg.Args
	perSpawn := []string{env.ForceColor + "=1"}
	if s.override > 0 {
		extra = port.RewriteArgs(extra, s.override)
		perSpawn = append(perSpawn, env.Port+"="+strconv.Itoa(s.override))
	}
	spec := process.Spec{
		Name:    s.cfg.Script,
		Command: s.cfg.PM,
		Args:    pm.BuildRunArgs(s.cfg.Script, extra),
		WorkDir: s.cfg.WorkDir,
		Env:     s.env.Merge(perSpawn),
	}

	s.gen++
	gen := s.gen
	s.readySeen = false
	child, err := s.launcher.Launch(spec,
		func(line string) { s.post(Event{Type: EventOutput, Gen: gen, Line: line}) },
		func(e process.Exit) { s.post(Event{Type: EventChildExited, Gen: gen, Exit: e}) },
	)
	if err != nil {
		s.finish(1, "cannot start dev server: "+err.Error())
		return
	}
	s.child = child
	s.state = StateIdle
	metrics.IncStart()
	metrics.SetRunning(true)
	s.log.Info("running", "cmd", spec.String(), "pid", child.PID())
	s.record(history.Event{Type: history.EventSpawn, PID: child.PID(), Port: s.override})
}

func (s *Supervisor) terminate(force bool) {
	if s.child == nil {
		return
	}
	if err := s.child.Terminate(force); err != nil {
		s.log.Warn("terminate failed", "pid", s.child.PID(), "force", force, "error", err)
	}
}

func (s *Supervisor) clean() {
	if s.cleaner == nil {
		return
	}
	if err := s.cleaner.Clean(); err != nil {
		s.log.Warn("cache cleanup incomplete", "error", err)
	}
}

func (s *Supervisor) record(e history.Event) {
	if s.history == nil {
		return
	}
	e.SessionID = s.stats.SessionID
	e.OccurredAt = s.clock.Now()
	e.Gen = s.gen
	if err := s.history.Send(context.Background(), e); err != nil {
		s.log.Debug("history write failed", "event", e.Type, "error", err)
	}
}

func (s *Supervisor) notify(msg string) {
	if s.notifier != nil {
		s.notifier.Notify("revivr", msg)
	}
}

func (s *Supervisor) arm(kind TimerKind, d time.Duration) {
	s.cancel(kind)
	s.seq++
	seq := s.seq
	t := s.clock.AfterFunc(d, func() {
		s.post(Event{Type: EventTimerFired, Timer: kind, Seq: seq})
	})
	s.timers[kind] = armedTimer{t: t, seq: seq}
}

func (s *Supervisor) cancel(kind TimerKind) {
	if at, ok := s.timers[kind]; ok {
		at.t.Stop()
		delete(s.timers, kind)
	}
}

func (s *Supervisor) cancelAll() {
	for k := range s.timers {
		s.cancel(k)
	}
}

func (s *Supervisor) finish(code int, reason string) {
	if s.state == StateDone {
		return
	}
	s.cancelAll()
	s.state = StateDone
	s.code = code
	s.reason = reason
	metrics.SetRunning(false)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if code != 0 {
		s.log.Error(reason)
		s.notify(reason)
	} else {
		s.log.Info(reason)
	}
	s.record(history.Event{Type: history.EventEnd, Reason: reason, ExitCode: &code})
	if s.reportOut != nil {
		opts := report.Options{Renderer: s.renderer, Reason: reason}
		if err := report.Write(s.reportOut, s.stats, s.clock.Now(), opts); err != nil {
			s.log.Debug("write report", "error", err)
		}
	}
	s.quitOnce.Do(func() { close(s.quit) })
}
