package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	childStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revivr",
			Subsystem: "child",
			Name:      "starts_total",
			Help:      "Number of dev server spawns.",
		},
	)
	childRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "revivr",
			Subsystem: "child",
			Name:      "running",
			Help:      "1 while a dev server child is running.",
		},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revivr",
			Name:      "restarts_total",
			Help:      "Restarts performed, by triggering reason.",
		}, []string{"reason"},
	)
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revivr",
			Name:      "signals_total",
			Help:      "Classified output lines, by category.",
		}, []string{"category"},
	)
	crashLoops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revivr",
			Name:      "crash_loops_total",
			Help:      "Sessions terminated by the crash-loop or restart-limit policy.",
		},
	)
	restartInterval = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "revivr",
			Name:      "restart_interval_seconds",
			Help:      "Time between consecutive restarts.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{childStarts, childRunning, restarts, signals, crashLoops, restartInterval}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		childStarts.Inc()
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		childRunning.Set(v)
	}
}

func IncRestart(reason string) {
	if regOK.Load() {
		restarts.WithLabelValues(reason).Inc()
	}
}

func IncSignal(category string) {
	if regOK.Load() {
		signals.WithLabelValues(category).Inc()
	}
}

func IncCrashLoop() {
	if regOK.Load() {
		crashLoops.Inc()
	}
}

func ObserveRestartInterval(d time.Duration) {
	if regOK.Load() {
		restartInterval.Observe(d.Seconds())
	}
}
