package supervisor

import (
	"time"
)

// Defaults for Config.
const (
	DefaultDebounce       = 1000 * time.Millisecond
	DefaultRestartDelay   = 500 * time.Millisecond
	DefaultKillGrace      = 3 * time.Second
	DefaultCrashWindow    = 5 * time.Second
	DefaultCrashThreshold = 3
	DefaultMaxRestarts    = 20
	DefaultMaxPortShifts  = 10
)

// Config is what the supervisor runs and how it paces restarts.
type Config struct {
	PM      string   // package manager executable
	Script  string   // package.json script
	Args    []string // passthrough arguments for the script
	WorkDir string

	Debounce       time.Duration // quiet period after the first restart signal
	RestartDelay   time.Duration // pause between exit and respawn
	KillGrace      time.Duration // SIGTERM to SIGKILL escalation
	CrashWindow    time.Duration
	CrashThreshold int // restarts inside CrashWindow that count as a crash loop
	MaxRestarts    int // counted restarts per session
	MaxPortShifts  int // consecutive port shifts before they count as restarts

	CleanOnStart bool // run the cleaner before the first spawn
	CleanOnCrash bool // run the cleaner before respawning after corruption or a crash
}

// DefaultConfig runs "npm run dev" with the default pacing.
func DefaultConfig() Config {
	return Config{
		PM:             "npm",
		Script:         "dev",
		Debounce:       DefaultDebounce,
		RestartDelay:   DefaultRestartDelay,
		KillGrace:      DefaultKillGrace,
		CrashWindow:    DefaultCrashWindow,
		CrashThreshold: DefaultCrashThreshold,
		MaxRestarts:    DefaultMaxRestarts,
		MaxPortShifts:  DefaultMaxPortShifts,
		CleanOnStart:   true,
		CleanOnCrash:   true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PM == "" {
		c.PM = d.PM
	}
	if c.Script == "" {
		c.Script = d.Script
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.KillGrace <= 0 {
		c.KillGrace = d.KillGrace
	}
	if c.CrashWindow <= 0 {
		c.CrashWindow = d.CrashWindow
	}
	if c.CrashThreshold <= 0 {
		c.CrashThreshold = d.CrashThreshold
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = d.MaxRestarts
	}
	if c.MaxPortShifts < 0 {
		c.MaxPortShifts = 0
	}
}
