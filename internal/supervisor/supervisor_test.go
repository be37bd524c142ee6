package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/revivr/internal/env"
	"github.com/loykin/revivr/internal/history"
	"github.com/loykin/revivr/internal/process"
	"github.com/loykin/revivr/internal/watcher"
)

const (
	lineCache   = "Error: ENOENT: no such file or directory, open '/app/.next/static/development/_buildManifest.js.tmp.1234'"
	linePort    = "Error: listen EADDRINUSE: address already in use :::3000"
	lineMissing = "Module not found: Can't resolve 'zod'"
	lineReady   = " ✓ Ready in 1.2s"
)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fakeChild struct {
	pid        int
	onLine     func(string)
	onExit     func(process.Exit)
	ignoreTerm bool
	exited     bool
	terms      []bool
}

func (c *fakeChild) PID() int { return c.pid }

func (c *fakeChild) Snapshot() process.Status {
	st := process.StateRunning
	if c.exited {
		st = process.StateExited
	}
	return process.Status{Name: "dev", PID: c.pid, PGID: c.pid, State: st}
}

func (c *fakeChild) Terminate(force bool) error {
	c.terms = append(c.terms, force)
	switch {
	case force:
		c.exit(process.Exit{Code: -1, Signal: syscall.SIGKILL})
	case !c.ignoreTerm:
		c.exit(process.Exit{Code: -1, Signal: syscall.SIGTERM})
	}
	return nil
}

func (c *fakeChild) emit(line string) { c.onLine(line) }

func (c *fakeChild) exit(e process.Exit) {
	if c.exited {
		return
	}
	c.exited = true
	c.onExit(e)
}

type fakeLauncher struct {
	specs      []process.Spec
	children   []*fakeChild
	err        error
	ignoreTerm bool
}

func (l *fakeLauncher) Launch(spec process.Spec, onLine func(string), onExit func(process.Exit)) (Child, error) {
	if l.err != nil {
		return nil, l.err
	}
	c := &fakeChild{pid: 1000 + len(l.children), onLine: onLine, onExit: onExit, ignoreTerm: l.ignoreTerm}
	l.specs = append(l.specs, spec)
	l.children = append(l.children, c)
	return c, nil
}

func (l *fakeLauncher) last() *fakeChild { return l.children[len(l.children)-1] }

type countingCleaner struct{ n int }

func (c *countingCleaner) Clean() error { c.n++; return nil }

type recordingNotifier struct{ msgs []string }

func (n *recordingNotifier) Notify(_, msg string) { n.msgs = append(n.msgs, msg) }

type fakeWatcher struct {
	watched map[string]func()
	closed  bool
}

func (w *fakeWatcher) Watch(module string, onInstalled func()) error {
	if w.watched == nil {
		w.watched = make(map[string]func())
	}
	w.watched[module] = onInstalled
	return nil
}

func (w *fakeWatcher) Close() error { w.closed = true; return nil }

type recordingHistory struct{ events []history.Event }

func (r *recordingHistory) Send(_ context.Context, e history.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingHistory) types() []history.EventType {
	out := make([]history.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	history  *recordingHistory
	s        *Supervisor
	l        *fakeLauncher
	c        *fakeClock
	cleaner  *countingCleaner
	notifier *recordingNotifier
	watcher  *fakeWatcher
	report   *bytes.Buffer
}

func newHarness(t *testing.T, mutate func(*Config), l *fakeLauncher, extra ...Option) *harness {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	if l == nil {
		l = &fakeLauncher{}
	}
	e := env.New()
	e.FromList([]string{"PATH=/usr/bin"})
	h := &harness{
		l:        l,
		c:        newFakeClock(),
		cleaner:  &countingCleaner{},
		notifier: &recordingNotifier{},
		watcher:  &fakeWatcher{},
		report:   &bytes.Buffer{},
		history:  &recordingHistory{},
	}
	opts := []Option{
		WithClock(h.c),
		WithCleaner(h.cleaner),
		WithNotifier(h.notifier),
		WithModuleWatcher(h.watcher),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReport(h.report, nil),
		WithEnv(e),
		WithHistory(h.history),
	}
	h.s = New(cfg, l, append(opts, extra...)...)
	h.s.start()
	return h
}

// dispatchPending handles every queued event, including those queued while
// handling.
func (s *Supervisor) dispatchPending() {
	for {
		select {
		case ev := <-s.events:
			s.HandleEvent(ev)
		default:
			return
		}
	}
}

func (h *harness) flush() { h.s.dispatchPending() }

// advance moves the clock in small steps so chained timers fire in order.
func (h *harness) advance(d time.Duration) {
	const step = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.c.Advance(step)
		h.flush()
	}
}

func (h *harness) emit(line string) {
	h.l.last().emit(line)
	h.flush()
}

func (h *harness) crash(code int) {
	h.l.last().exit(process.Exit{Code: code})
	h.flush()
}

func TestStartSpawnsWithColorEnv(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Args = []string{"--turbo"} }, nil)
	require.Len(t, h.l.specs, 1)
	sp := h.l.specs[0]
	assert.Equal(t, "npm", sp.Command)
	assert.Equal(t, []string{"run", "dev", "--", "--turbo"}, sp.Args)
	assert.Contains(t, sp.Env, "FORCE_COLOR=1")
	assert.Contains(t, sp.Env, "PATH=/usr/bin")
	assert.Equal(t, 1, h.cleaner.n, "clean before first spawn")
	assert.Equal(t, StateIdle, h.s.State())
}

func TestNoCleanOnStart(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CleanOnStart = false }, nil)
	assert.Equal(t, 0, h.cleaner.n)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t, nil, nil)
	first := h.l.last()
	for i := 0; i < 10; i++ {
		h.emit(lineCache)
		h.advance(50 * time.Millisecond)
	}
	assert.Equal(t, StateDebouncing, h.s.State())
	assert.Empty(t, first.terms, "no kill before the debounce elapses")

	h.advance(DefaultDebounce)
	require.Equal(t, []bool{false}, first.terms, "one SIGTERM")
	h.advance(DefaultRestartDelay + 50*time.Millisecond)

	assert.Len(t, h.l.specs, 2, "exactly one respawn")
	assert.Equal(t, 1, h.s.Stats().Restarts)
	assert.Equal(t, 10, h.s.Stats().Categories["cache-corruption"], "absorbed signals still counted")
	assert.Equal(t, 2, h.cleaner.n, "start clean plus one restart clean")
	assert.Equal(t, StateIdle, h.s.State())
}

func TestEscalatesToKillAfterGrace(t *testing.T) {
	h := newHarness(t, nil, &fakeLauncher{ignoreTerm: true})
	child := h.l.last()
	h.emit(lineCache)
	h.advance(DefaultDebounce)
	require.Equal(t, []bool{false}, child.terms)
	assert.Equal(t, StateKilling, h.s.State())

	h.advance(DefaultKillGrace)
	assert.Equal(t, []bool{false, true}, child.terms)
	h.advance(DefaultRestartDelay)
	assert.Len(t, h.l.specs, 2)
}

func TestCrashLoopExitsWithOne(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 3 && h.s.State() != StateDone; i++ {
		h.crash(1)
		h.advance(DefaultRestartDelay)
	}
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 1, h.s.code)
	assert.Len(t, h.l.specs, 3, "no spawn after the loop is detected")
	assert.Contains(t, h.s.reason, "crash loop")
	assert.Equal(t, 3, h.s.Stats().Restarts, "the fatal attempt is counted")
	assert.Contains(t, h.report.String(), "restarts: 3")
	assert.True(t, h.watcher.closed)
	require.NotEmpty(t, h.notifier.msgs)
}

func TestRestartCeiling(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 50 && h.s.State() != StateDone; i++ {
		h.crash(1)
		h.advance(6 * time.Second)
	}
	assert.Equal(t, 1, h.s.code)
	assert.Contains(t, h.s.reason, "restart limit")
	assert.Equal(t, DefaultMaxRestarts+1, h.s.Stats().Restarts, "the 21st attempt ends the session")
	assert.Equal(t, DefaultMaxRestarts, h.s.budget)
	assert.Len(t, h.l.specs, DefaultMaxRestarts+1)
}

func TestCleanExitEndsSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.emit(lineCache)
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	require.Len(t, h.l.specs, 2)

	h.crash(0)
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 0, h.s.code)
	assert.Contains(t, h.report.String(), "restarts: 1")
	assert.Empty(t, h.notifier.msgs, "no notification for a clean exit")
}

func TestExitBySIGINTIsClean(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.l.last().exit(process.Exit{Code: -1, Signal: syscall.SIGINT})
	h.flush()
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 0, h.s.code)
}

func TestInterruptTerminatesAndWaits(t *testing.T) {
	h := newHarness(t, nil, &fakeLauncher{ignoreTerm: true})
	h.emit(lineCache)
	child := h.l.last()

	h.s.HandleEvent(Event{Type: EventInterrupt})
	assert.Equal(t, StateStopping, h.s.State())
	assert.Equal(t, []bool{false}, child.terms)

	// pending debounce was cancelled
	h.advance(DefaultDebounce)
	assert.Equal(t, []bool{false}, child.terms)
	assert.Len(t, h.l.specs, 1)

	h.advance(DefaultKillGrace)
	assert.Equal(t, []bool{false, true}, child.terms)
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 0, h.s.code)
}

func TestInterruptChildExitsInGrace(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.HandleEvent(Event{Type: EventInterrupt})
	h.flush()
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 0, h.s.code)
	assert.Contains(t, h.report.String(), "interrupted")
}

func TestSecondInterruptForces(t *testing.T) {
	h := newHarness(t, nil, &fakeLauncher{ignoreTerm: true})
	child := h.l.last()
	h.s.HandleEvent(Event{Type: EventInterrupt})
	h.s.HandleEvent(Event{Type: EventInterrupt})
	assert.Equal(t, []bool{false, true}, child.terms)
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 0, h.s.code)
}

func TestPortConflictShiftsPort(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Args = []string{"--port", "3000"} }, nil)
	h.emit(linePort)
	h.crash(1)
	h.advance(DefaultRestartDelay)

	require.Len(t, h.l.specs, 2)
	assert.Equal(t, []string{"run", "dev", "--", "--port", "3001"}, h.l.specs[1].Args)
	assert.Contains(t, h.l.specs[1].Env, "PORT=3001")
	assert.Equal(t, 1, h.cleaner.n, "no cache cleanup for port conflicts")
	assert.Equal(t, 1, h.s.Stats().PortShifts)
	assert.Equal(t, 0, h.s.budget, "port shift not counted")
	assert.Equal(t, 0, h.s.window.Len())

	assert.Equal(t, 3001, h.s.Snapshot().Port)
}

func TestPortOverrideClearedAfterShiftedSpawnExits(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Args = []string{"--port", "3000"} }, nil)
	h.emit(linePort)
	h.crash(1)
	h.advance(DefaultRestartDelay)
	require.Len(t, h.l.specs, 2)
	require.Equal(t, 3001, h.s.override)

	h.crash(1)
	h.advance(DefaultRestartDelay)
	require.Len(t, h.l.specs, 3)
	assert.Equal(t, []string{"run", "dev", "--", "--port", "3000"}, h.l.specs[2].Args)
	assert.NotContains(t, h.l.specs[2].Env, "PORT=3001")
	assert.Zero(t, h.s.Snapshot().Port)

	h.advance(DefaultCrashWindow + time.Second)
	h.emit(lineCache)
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	require.Len(t, h.l.specs, 4)
	assert.Equal(t, []string{"run", "dev", "--", "--port", "3000"}, h.l.specs[3].Args)
}

func TestPortShiftsCountAfterStreak(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxPortShifts = 2 }, nil)
	for i := 0; i < 3; i++ {
		h.emit("Error: listen EADDRINUSE: address already in use :::" + []string{"3000", "3001", "3002"}[i])
		h.crash(1)
		h.advance(DefaultRestartDelay)
	}
	assert.Equal(t, 3, h.s.Stats().PortShifts)
	assert.Equal(t, 1, h.s.budget, "third consecutive shift counted")
	assert.Equal(t, []string{"run", "dev", "--", "--port", "3003"}, h.l.specs[3].Args)
}

func TestReadyAfterRecoveryResetsStreak(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.emit(linePort)
	h.crash(1)
	h.advance(DefaultRestartDelay)
	require.Equal(t, 1, h.s.portStreak)

	h.emit(lineReady)
	h.emit(lineReady)
	assert.Equal(t, 0, h.s.portStreak)
	assert.Len(t, h.notifier.msgs, 1, "recovery notified once")
	assert.Zero(t, h.s.Stats().Categories["ready"])
}

func TestExitWhileDebouncingConsumesIntent(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.emit(lineCache)
	h.crash(1)
	assert.Equal(t, StateSpawning, h.s.State())

	h.advance(DefaultDebounce + DefaultRestartDelay)
	assert.Len(t, h.l.specs, 2, "exactly one restart")
	assert.Equal(t, 1, h.s.Stats().Restarts)
	assert.Zero(t, h.s.Stats().Categories["crash"], "exit attributed to the pending reason")
	assert.Empty(t, h.l.children[1].terms, "new child not killed by the stale debounce")
}

func TestStaleGenerationIgnored(t *testing.T) {
	h := newHarness(t, nil, nil)
	old := h.l.last()
	h.emit(lineCache)
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	require.Len(t, h.l.specs, 2)

	old.onLine(lineCache)
	old.onExit(process.Exit{Code: 1})
	h.flush()
	assert.Equal(t, StateIdle, h.s.State())
	assert.Equal(t, 1, h.s.Stats().Categories["cache-corruption"])
	assert.Len(t, h.l.specs, 2)
}

func TestMissingModuleWatchesAndRestartsOnInstall(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.emit(lineMissing)
	h.emit(lineMissing)
	assert.Equal(t, StateIdle, h.s.State(), "no restart for a missing module")
	assert.Equal(t, 2, h.s.Stats().Categories["missing-module"])
	require.Contains(t, h.watcher.watched, "zod")

	h.watcher.watched["zod"]()
	h.flush()
	assert.Equal(t, StateDebouncing, h.s.State())
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	assert.Len(t, h.l.specs, 2)
	assert.Equal(t, 1, h.cleaner.n, "installs do not clear the cache")
}

func TestImportErrorOfInstalledModuleDoesNotRestart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "lodash"), 0o750))
	w, err := watcher.New(dir, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	h := newHarness(t, nil, nil, WithModuleWatcher(w))
	for i := 0; i < 6; i++ {
		h.emit("Error: Cannot find module 'lodash/doesNotExist'")
	}
	time.Sleep(100 * time.Millisecond)
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)

	assert.Equal(t, StateIdle, h.s.State())
	assert.Len(t, h.l.specs, 1, "a broken import keeps the server running as is")
	assert.Zero(t, h.s.Stats().Restarts)
	assert.Equal(t, 6, h.s.Stats().Categories["missing-module"])
	assert.Empty(t, h.s.watching)
}

func TestSpawnFailureExitsOne(t *testing.T) {
	h := newHarness(t, nil, &fakeLauncher{err: errors.New("exec: \"npm\": executable file not found in $PATH")})
	assert.Equal(t, StateDone, h.s.State())
	assert.Equal(t, 1, h.s.code)
	assert.Contains(t, h.s.reason, "cannot start")
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	l := &fakeLauncher{}
	var buf bytes.Buffer
	s := New(DefaultConfig(), l,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReport(&buf, nil),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code := s.Run(ctx)
	assert.Equal(t, 0, code)
	assert.Contains(t, buf.String(), "Session summary")
}

func TestCrashWindowPrunes(t *testing.T) {
	w := NewCrashWindow(5 * time.Second)
	t0 := time.Unix(0, 0)
	w.Add(t0)
	w.Add(t0.Add(2 * time.Second))
	assert.Equal(t, 2, w.Len())
	w.Add(t0.Add(5 * time.Second))
	assert.Equal(t, 3, w.Len(), "entry exactly span old is kept")
	w.Add(t0.Add(8 * time.Second))
	assert.Equal(t, 2, w.Len())
}

func TestSnapshotTracksSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	snap := h.s.Snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Equal(t, 1000, snap.PID)
	require.NotNil(t, snap.Child)
	assert.Equal(t, 1000, snap.Child.PGID)
	assert.Equal(t, process.StateRunning, snap.Child.State)
	assert.Equal(t, uint64(1), snap.Gen)
	assert.NotEmpty(t, snap.SessionID)
	assert.Nil(t, snap.ExitCode)

	h.emit(linePort)
	snap = h.s.Snapshot()
	assert.Equal(t, "debouncing", snap.State)
	assert.Equal(t, "port-conflict", snap.Pending)
	assert.Equal(t, 1, snap.Categories["port-conflict"])

	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	snap = h.s.Snapshot()
	assert.Equal(t, 3001, snap.Port)
	assert.Equal(t, 1, snap.PortShifts)
	assert.Equal(t, 1001, snap.PID)

	h.crash(0)
	snap = h.s.Snapshot()
	assert.Equal(t, "done", snap.State)
	require.NotNil(t, snap.ExitCode)
	assert.Equal(t, 0, *snap.ExitCode)
}

func TestRequestRestart(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.s.RequestRestart()
	h.flush()
	assert.Equal(t, StateDebouncing, h.s.State())
	h.advance(DefaultDebounce + DefaultRestartDelay + 20*time.Millisecond)
	assert.Len(t, h.l.specs, 2)
	assert.Equal(t, 1, h.s.Stats().Restarts)
	assert.Equal(t, 1, h.cleaner.n, "manual restarts keep the cache")
}

func TestHistoryRecordsSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 3 && h.s.State() != StateDone; i++ {
		h.crash(1)
		h.advance(DefaultRestartDelay)
	}
	require.Equal(t, StateDone, h.s.State())
	assert.Equal(t, []history.EventType{
		history.EventSpawn, history.EventRestart,
		history.EventSpawn, history.EventRestart,
		history.EventSpawn, history.EventEnd,
	}, h.history.types())

	first, last := h.history.events[0], h.history.events[len(h.history.events)-1]
	assert.Equal(t, h.s.Snapshot().SessionID, first.SessionID)
	assert.Equal(t, uint64(1), first.Gen)
	assert.Equal(t, "crash", h.history.events[1].Reason)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 1, *last.ExitCode)
	assert.Contains(t, last.Reason, "crash loop")
}

type stuckSink struct{ release chan struct{} }

func (s stuckSink) Send(ctx context.Context, _ history.Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func TestSlowHistoryDoesNotStallEventLoop(t *testing.T) {
	sink := stuckSink{release: make(chan struct{})}
	hw := history.NewAsync(sink, 2, nil)
	defer func() { _ = hw.Close() }()
	defer close(sink.release)

	h := newHarness(t, nil, nil, WithHistory(hw))
	start := time.Now()
	for i := 0; i < 3 && h.s.State() != StateDone; i++ {
		h.crash(1)
		h.advance(DefaultRestartDelay)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDone, h.s.State())
	assert.Len(t, h.l.specs, 3)
	assert.Positive(t, hw.Dropped(), "overflow is dropped, not waited on")
}
