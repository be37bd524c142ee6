package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const runTimeout = 5 * time.Second

// Notifier shows desktop notifications through the platform's CLI tool.
// Notify never blocks and never fails; errors are only debug-logged.
type Notifier struct {
	Disabled bool

	goos string
	run  func(ctx context.Context, name string, args ...string) error
	log  *slog.Logger
}

func New(disabled bool, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{Disabled: disabled, goos: runtime.GOOS, run: run, log: log}
}

func (n *Notifier) Notify(title, msg string) {
	if n == nil || n.Disabled {
		return
	}
	name, args, ok := command(n.goos, title, msg)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if err := n.run(ctx, name, args...); err != nil {
			n.log.Debug("desktop notification failed", "tool", name, "error", err)
		}
	}()
}

func command(goos, title, msg string) (string, []string, bool) {
	switch goos {
	case "linux":
		return "notify-send", []string{"--app-name=revivr", title, msg}, true
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleString(msg), appleString(title))
		return "osascript", []string{"-e", script}, true
	default:
		return "", nil, false
	}
}

var appleEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func appleString(s string) string {
	return `"` + appleEscaper.Replace(s) + `"`
}

func run(ctx context.Context, name string, args ...string) error {
	// #nosec G204
	return exec.CommandContext(ctx, name, args...).Run()
}
