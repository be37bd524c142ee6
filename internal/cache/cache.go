package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDirs are removed when no cache dirs are configured.
var DefaultDirs = []string{".next"}

// ErrUnsafePath is returned for cache dirs that would resolve to the project
// root or above it.
var ErrUnsafePath = errors.New("refusing to remove path outside the project")

// Cleaner deletes build cache directories under Root.
type Cleaner struct {
	Root string   // project directory; relative Dirs resolve against it
	Dirs []string // directories to delete
	Log  *slog.Logger
}

func New(root string, dirs []string, log *slog.Logger) *Cleaner {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{Root: root, Dirs: append([]string(nil), dirs...), Log: log}
}

// Clean removes every configured directory. Missing dirs are skipped; every
// failure is collected and returned joined, after all dirs were attempted.
func (c *Cleaner) Clean() error {
	var errs []error
	for _, d := range c.Dirs {
		p, err := c.resolve(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		c.Log.Debug("cleaning cache", "dir", p)
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Cleaner) resolve(dir string) (string, error) {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return "", err
	}
	p := dir
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, dir)
	}
	return p, nil
}
