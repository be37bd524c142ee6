package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// DefaultTopN is the number of categories listed in the summary.
const DefaultTopN = 3

// Options tweak rendering. The zero value renders plain text with DefaultTopN.
type Options struct {
	TopN     int
	Renderer *lipgloss.Renderer // nil renders without styling
	Reason   string             // why the session ended, e.g. "crash loop detected"
}

// CategoryCount is one row of the category ranking.
type CategoryCount struct {
	Category string
	Count    int
}

var hints = map[string]string{
	"cache-corruption": "The build cache keeps corrupting. Try upgrading the framework or disabling its persistent cache.",
	"port-conflict":    "Ports keep colliding. Look for orphaned dev servers still bound to the port.",
	"missing-module":   "Dependencies are missing. Run your package manager's install command.",
	"crash":            "The server keeps crashing on its own. Check the output above the first restart.",
}

// TopCategories ranks categories by count (desc), ties broken by name.
func TopCategories(s *Stats, n int) []CategoryCount {
	out := make([]CategoryCount, 0, len(s.Categories))
	for c, k := range s.Categories {
		if c == "ready" || k == 0 {
			continue
		}
		out = append(out, CategoryCount{Category: c, Count: k})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Hint returns advice when one category dominates: at least three hits and at
// least half of all error signals.
func Hint(s *Stats) string {
	top := TopCategories(s, 1)
	if len(top) == 0 || top[0].Count < 3 {
		return ""
	}
	total := 0
	for _, c := range TopCategories(s, 0) {
		total += c.Count
	}
	if top[0].Count*2 < total {
		return ""
	}
	return hints[top[0].Category]
}

// Render produces the end-of-session summary.
func Render(s *Stats, now time.Time, opts Options) string {
	n := opts.TopN
	if n <= 0 {
		n = DefaultTopN
	}
	r := opts.Renderer
	title := style(r, func(st lipgloss.Style) lipgloss.Style { return st.Bold(true).Foreground(lipgloss.Color("5")) })
	label := style(r, func(st lipgloss.Style) lipgloss.Style { return st.Faint(true) })
	warn := style(r, func(st lipgloss.Style) lipgloss.Style { return st.Foreground(lipgloss.Color("3")) })

	var b strings.Builder
	b.WriteString(title("Session summary"))
	if s.SessionID != "" {
		b.WriteString(" " + label("("+shortID(s.SessionID)+")"))
	}
	b.WriteString("\n")
	if opts.Reason != "" {
		fmt.Fprintf(&b, "  %s %s\n", label("ended:"), opts.Reason)
	}
	fmt.Fprintf(&b, "  %s %s\n", label("uptime:"), FormatDuration(now.Sub(s.Start)))
	fmt.Fprintf(&b, "  %s %d\n", label("restarts:"), s.Restarts)
	if s.PortShifts > 0 {
		fmt.Fprintf(&b, "  %s %d\n", label("port shifts:"), s.PortShifts)
	}
	if mean, ok := s.MeanInterval(); ok {
		fmt.Fprintf(&b, "  %s %s\n", label("mean interval:"), FormatDuration(mean))
	}
	if top := TopCategories(s, n); len(top) > 0 {
		fmt.Fprintf(&b, "  %s\n", label("top errors:"))
		for _, c := range top {
			fmt.Fprintf(&b, "    %-18s %d\n", c.Category, c.Count)
		}
	}
	if h := Hint(s); h != "" {
		fmt.Fprintf(&b, "  %s\n", warn("hint: "+h))
	}
	return b.String()
}

// Write renders the summary to w.
func Write(w io.Writer, s *Stats, now time.Time, opts Options) error {
	_, err := io.WriteString(w, Render(s, now, opts))
	return err
}

// FormatDuration prints a duration rounded for humans: 950ms, 12.3s, 4m05s, 1h02m.
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		d = 0
		fallthrough
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func style(r *lipgloss.Renderer, build func(lipgloss.Style) lipgloss.Style) func(string) string {
	if r == nil {
		return func(s string) string { return s }
	}
	st := build(r.NewStyle())
	return func(s string) string { return st.Render(s) }
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
