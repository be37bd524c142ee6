package watcher

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrClosed is returned by Watch after Close.
	ErrClosed = errors.New("watcher closed")
	// ErrInstalled is returned by Watch when the package root already exists,
	// so the failing import is not fixed by an install.
	ErrInstalled = errors.New("module already installed")
)

// Watcher waits for packages to appear under <dir>/node_modules. Each
// callback fires at most once, from the watcher goroutine.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]func()
	closed  bool

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New starts watching the project directory.
func New(dir string, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		dir:     dir,
		watcher: fw,
		log:     log,
		pending: make(map[string]func()),
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch calls onInstalled once node_modules/<module> is created. A module that
// is already installed is never watched; Watch returns ErrInstalled.
func (w *Watcher) Watch(module string, onInstalled func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.installed(module) {
		return ErrInstalled
	}
	// the project dir catches node_modules being created from scratch
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.addIfExists(w.modulesDir())
	if scope, ok := scopeOf(module); ok {
		w.addIfExists(filepath.Join(w.modulesDir(), scope))
	}
	w.pending[module] = onInstalled
	return nil
}

// Close stops the watcher. Pending callbacks never fire.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.pending = map[string]func(){}
		w.mu.Unlock()
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Debug("module watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	// descend as node_modules and scope dirs appear
	if ev.Name == w.modulesDir() || filepath.Dir(ev.Name) == w.modulesDir() && strings.HasPrefix(filepath.Base(ev.Name), "@") {
		w.addIfExists(ev.Name)
	}
	var fire []func()
	for module, cb := range w.pending {
		if w.installed(module) {
			fire = append(fire, cb)
			delete(w.pending, module)
		}
	}
	w.mu.Unlock()
	for _, cb := range fire {
		cb()
	}
}

func (w *Watcher) modulesDir() string { return filepath.Join(w.dir, "node_modules") }

func (w *Watcher) installed(module string) bool {
	_, err := os.Stat(filepath.Join(w.modulesDir(), filepath.FromSlash(module)))
	return err == nil
}

func (w *Watcher) addIfExists(dir string) {
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		if err := w.watcher.Add(dir); err != nil {
			w.log.Debug("cannot watch", "dir", dir, "error", err)
		}
	}
}

func scopeOf(module string) (string, bool) {
	if !strings.HasPrefix(module, "@") {
		return "", false
	}
	scope, _, ok := strings.Cut(module, "/")
	return scope, ok
}
