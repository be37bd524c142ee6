package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// LevelSuccess sits between Info and Warn so that filtering on Info keeps it.
const LevelSuccess = slog.Level(2)

// Tag prefixes every console line written by the supervisor.
const Tag = "[revivr]"

// Config describes where supervisor logs go. Console output always goes to
// the writer passed to New; File adds a rotating plain-text copy.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	File       string     // optional log file; also receives child output
	MaxSizeMB  int        // megabytes before rotation (default 10)
	MaxBackups int        // number of backups to keep (default 3)
	MaxAgeDays int        // days to keep (default 7)
	Compress   bool       // Gzip rotated files
	Level      slog.Level // minimum level (default Info)
	NoColor    bool       // disable console colors
}

// FileWriter returns the rotating file writer, or nil when File is empty.
func (c Config) FileWriter() (io.WriteCloser, error) {
	if c.File == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o750); err != nil {
		return nil, err
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// New builds the supervisor logger. file may be nil.
func New(console io.Writer, file io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level, ReplaceAttr: replaceLevel}
	var hs []slog.Handler
	color := !cfg.NoColor && ColorEnabled(console)
	hs = append(hs, NewColorTextHandler(console, opts, color))
	if file != nil {
		hs = append(hs, slog.NewTextHandler(file, opts))
	}
	if len(hs) == 1 {
		return slog.New(hs[0])
	}
	return slog.New(fanout(hs))
}

// ColorEnabled reports whether w is a terminal that should receive ANSI colors.
// NO_COLOR (https://no-color.org) always wins.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Success logs at LevelSuccess.
func Success(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelSuccess, msg, args...)
}

// LevelName is the short word printed for a level.
func LevelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < LevelSuccess:
		return "info"
	case l < slog.LevelWarn:
		return "ok"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lv, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, LevelName(lv))
		}
	}
	return a
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
