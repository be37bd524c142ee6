package revivr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/revivr/internal/cache"
	"github.com/loykin/revivr/internal/classifier"
	cfg "github.com/loykin/revivr/internal/config"
	"github.com/loykin/revivr/internal/env"
	"github.com/loykin/revivr/internal/history"
	"github.com/loykin/revivr/internal/logger"
	"github.com/loykin/revivr/internal/metrics"
	"github.com/loykin/revivr/internal/notify"
	"github.com/loykin/revivr/internal/pm"
	"github.com/loykin/revivr/internal/port"
	"github.com/loykin/revivr/internal/process"
	"github.com/loykin/revivr/internal/server"
	"github.com/loykin/revivr/internal/supervisor"
	"github.com/loykin/revivr/internal/watcher"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Category = classifier.Category

type Match = classifier.Match

// Classify reports what a line of dev-server output means to the supervisor.
func Classify(line string) Match { return classifier.Classify(line) }

// ExtractPort returns the port named by an address-in-use error.
func ExtractPort(line string) (int, bool) { return port.ExtractPort(line) }

// BuildRunArgs builds "run <script> [-- extra...]".
func BuildRunArgs(script string, extra []string) []string { return pm.BuildRunArgs(script, extra) }

// DetectPackageManager picks npm, pnpm, yarn or bun for dir.
func DetectPackageManager(dir, userAgent string) string { return pm.Detect(dir, userAgent) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Options describe one supervised session.
type Options struct {
	Config Config
	Dir    string   // project directory; defaults to the working directory
	Args   []string // "[script] [passthrough...]"
	Stdout io.Writer
	Stderr io.Writer
}

// Run supervises the dev server until it exits cleanly, is interrupted, or
// the restart policy gives up. The returned code is meant for os.Exit. A
// non-nil error means the session never started.
func Run(ctx context.Context, o Options) (int, error) {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	dir := o.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return 1, err
		}
		dir = wd
	}
	c := o.Config

	lc := logger.Config{File: c.LogFile, NoColor: !logger.ColorEnabled(o.Stderr)}
	if c.Verbose {
		lc.Level = slog.LevelDebug
	}
	fw, err := lc.FileWriter()
	if err != nil {
		return 1, fmt.Errorf("log file: %w", err)
	}
	var file io.Writer // stays nil without --log-file
	if fw != nil {
		defer func() { _ = fw.Close() }()
		file = fw
	}
	log := logger.New(o.Stderr, file, lc)

	script, extra := pm.ParseArgs(o.Args)
	m, err := pm.LoadManifest(dir)
	if err != nil {
		return 1, err
	}
	if _, err := m.Script(script); err != nil {
		return 1, err
	}
	pmName := c.PM
	if pmName == "" {
		pmName = pm.Detect(dir, os.Getenv(env.UserAgent))
	}

	e := env.New()
	e.FromOS()
	kvs, err := c.LoadEnvFiles()
	if err != nil {
		return 1, err
	}
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			e.Set(k, v)
		}
	}

	childOut, childErr := o.Stdout, o.Stderr
	if file != nil {
		childOut = io.MultiWriter(o.Stdout, file)
		childErr = io.MultiWriter(o.Stderr, file)
	}
	mgr := process.NewManager(childOut, childErr, log)

	var renderer *lipgloss.Renderer
	if !lc.NoColor {
		renderer = lipgloss.NewRenderer(o.Stderr)
	}
	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithEnv(e),
		supervisor.WithCleaner(cache.New(dir, c.CacheDirs, log)),
		supervisor.WithNotifier(notify.New(!c.Notify, log)),
		supervisor.WithReport(o.Stderr, renderer),
	}
	if c.History != "" {
		sink, err := history.NewSQLSinkFromDSN(c.History)
		if err != nil {
			return 1, fmt.Errorf("history: %w", err)
		}
		defer func() { _ = sink.Close() }()
		hw := history.NewAsync(sink, 0, log)
		defer func() {
			if err := hw.Close(); err != nil {
				log.Warn("history incomplete", "error", err, "dropped", hw.Dropped())
			}
		}()
		opts = append(opts, supervisor.WithHistory(hw))
	}
	mw, err := watcher.New(dir, log)
	if err == nil {
		opts = append(opts, supervisor.WithModuleWatcher(mw))
	} else {
		log.Debug("module watcher unavailable", "error", err)
	}
	sup := supervisor.New(c.Supervisor(pmName, script, extra, dir), supervisor.ProcessLauncher{M: mgr}, opts...)

	if c.Listen != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return 1, fmt.Errorf("metrics: %w", err)
		}
		gin.SetMode(gin.ReleaseMode)
		srv, err := server.Start(c.Listen, "", sup)
		if err != nil {
			if mw != nil {
				_ = mw.Close()
			}
			return 1, fmt.Errorf("status listener: %w", err)
		}
		log.Info("status api listening", "addr", srv.Addr)
		defer func() { _ = server.Shutdown(srv, time.Second) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigCh:
				sup.Interrupt()
			case <-done:
				return
			}
		}
	}()

	return sup.Run(ctx), nil
}
