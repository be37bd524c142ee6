package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ColorTextHandler writes compact tagged lines for humans:
//
//	[revivr] warn restart scheduled reason=cache-corruption
//
// Colors come from lipgloss and are only applied when enabled.
type ColorTextHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	prefix string // group prefix for attribute keys
	styles map[string]lipgloss.Style
	color  bool
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	h := &ColorTextHandler{mu: &sync.Mutex{}, w: w, color: color}
	if opts != nil {
		h.opts = *opts
	}
	if color {
		r := lipgloss.NewRenderer(w)
		h.styles = map[string]lipgloss.Style{
			"tag":   r.NewStyle().Foreground(lipgloss.Color("5")),
			"debug": r.NewStyle().Faint(true),
			"info":  r.NewStyle().Foreground(lipgloss.Color("6")),
			"ok":    r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
			"warn":  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			"error": r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		}
	}
	return h
}

func (h *ColorTextHandler) Enabled(_ context.Context, l slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return l >= minLevel
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	lvl := LevelName(r.Level)
	buf.WriteString(h.paint("tag", Tag))
	buf.WriteByte(' ')
	buf.WriteString(h.paint(lvl, lvl))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *ColorTextHandler) paint(key, s string) string {
	if !h.color {
		return s
	}
	if st, ok := h.styles[key]; ok {
		return st.Render(s)
	}
	return s
}

func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix + a.Key)
	buf.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	buf.WriteString(v)
}
