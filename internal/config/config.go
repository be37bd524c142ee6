package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/revivr/internal/cache"
	"github.com/loykin/revivr/internal/pm"
	"github.com/loykin/revivr/internal/supervisor"
)

// EnvPrefix namespaces environment overrides: REVIVR_DEBOUNCE=2s.
const EnvPrefix = "REVIVR"

// Setting keys. Flag names and keys are identical; the environment form
// upper-cases them and swaps '-' for '_'.
const (
	KeyNoNotify       = "no-notify"
	KeyNoClean        = "no-clean"
	KeyCacheDir       = "cache-dir"
	KeyDebounce       = "debounce"
	KeyRestartDelay   = "restart-delay"
	KeyKillGrace      = "kill-grace"
	KeyCrashWindow    = "crash-window"
	KeyCrashThreshold = "crash-threshold"
	KeyMaxRestarts    = "max-restarts"
	KeyMaxPortShifts  = "max-port-shifts"
	KeyLogFile        = "log-file"
	KeyListen         = "listen"
	KeyHistory        = "history"
	KeyPM             = "pm"
	KeyEnvFile        = "env-file"
	KeyVerbose        = "verbose"
)

// Config is the resolved supervisor configuration.
type Config struct {
	Notify         bool
	Clean          bool
	CacheDirs      []string
	Debounce       time.Duration
	RestartDelay   time.Duration
	KillGrace      time.Duration
	CrashWindow    time.Duration
	CrashThreshold int
	MaxRestarts    int
	MaxPortShifts  int
	LogFile        string
	Listen         string // status and metrics HTTP address
	History        string // session history DSN
	PM             string // empty means detect
	EnvFiles       []string
	Verbose        bool
}

// New returns a viper instance with defaults and REVIVR_* environment
// overrides. There is no config file.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNoNotify, false)
	v.SetDefault(KeyNoClean, false)
	v.SetDefault(KeyCacheDir, cache.DefaultDirs)
	v.SetDefault(KeyDebounce, supervisor.DefaultDebounce)
	v.SetDefault(KeyRestartDelay, supervisor.DefaultRestartDelay)
	v.SetDefault(KeyKillGrace, supervisor.DefaultKillGrace)
	v.SetDefault(KeyCrashWindow, supervisor.DefaultCrashWindow)
	v.SetDefault(KeyCrashThreshold, supervisor.DefaultCrashThreshold)
	v.SetDefault(KeyMaxRestarts, supervisor.DefaultMaxRestarts)
	v.SetDefault(KeyMaxPortShifts, supervisor.DefaultMaxPortShifts)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyListen, "")
	v.SetDefault(KeyHistory, "")
	v.SetDefault(KeyPM, "")
	v.SetDefault(KeyEnvFile, []string{})
	v.SetDefault(KeyVerbose, false)
}

// AddFlags declares every setting on fs. Bind them with BindFlags so that a
// flag set on the command line wins over the environment.
func AddFlags(fs *pflag.FlagSet) {
	fs.Bool(KeyNoNotify, false, "disable desktop notifications")
	fs.Bool(KeyNoClean, false, "never delete cache directories")
	fs.StringSlice(KeyCacheDir, cache.DefaultDirs, "cache directory to delete before restarts (repeatable)")
	fs.Duration(KeyDebounce, supervisor.DefaultDebounce, "quiet period before a restart")
	fs.Duration(KeyRestartDelay, supervisor.DefaultRestartDelay, "pause between exit and respawn")
	fs.Duration(KeyKillGrace, supervisor.DefaultKillGrace, "wait after SIGTERM before SIGKILL")
	fs.Duration(KeyCrashWindow, supervisor.DefaultCrashWindow, "window for crash-loop detection")
	fs.Int(KeyCrashThreshold, supervisor.DefaultCrashThreshold, "restarts inside the crash window that end the session")
	fs.Int(KeyMaxRestarts, supervisor.DefaultMaxRestarts, "restarts per session")
	fs.Int(KeyMaxPortShifts, supervisor.DefaultMaxPortShifts, "consecutive port shifts not counted as restarts")
	fs.String(KeyLogFile, "", "also write logs and child output to this rotating file")
	fs.String(KeyListen, "", "serve /status, /restart and /metrics on this address, e.g. 127.0.0.1:9464")
	fs.String(KeyHistory, "", "append session events to this SQLite path or postgres:// DSN")
	fs.String(KeyPM, "", "package manager (npm, pnpm, yarn, bun); detected when empty")
	fs.StringSlice(KeyEnvFile, nil, ".env file merged into the child environment (repeatable)")
	fs.BoolP(KeyVerbose, "v", false, "debug logging")
}

func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

// Load resolves and validates the configuration.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Notify:         !v.GetBool(KeyNoNotify),
		Clean:          !v.GetBool(KeyNoClean),
		CacheDirs:      splitList(v.GetStringSlice(KeyCacheDir)),
		Debounce:       v.GetDuration(KeyDebounce),
		RestartDelay:   v.GetDuration(KeyRestartDelay),
		KillGrace:      v.GetDuration(KeyKillGrace),
		CrashWindow:    v.GetDuration(KeyCrashWindow),
		CrashThreshold: v.GetInt(KeyCrashThreshold),
		MaxRestarts:    v.GetInt(KeyMaxRestarts),
		MaxPortShifts:  v.GetInt(KeyMaxPortShifts),
		LogFile:        v.GetString(KeyLogFile),
		Listen:         strings.TrimSpace(v.GetString(KeyListen)),
		History:        strings.TrimSpace(v.GetString(KeyHistory)),
		PM:             strings.TrimSpace(v.GetString(KeyPM)),
		EnvFiles:       splitList(v.GetStringSlice(KeyEnvFile)),
		Verbose:        v.GetBool(KeyVerbose),
	}
	if len(c.CacheDirs) == 0 {
		c.CacheDirs = append([]string(nil), cache.DefaultDirs...)
	}
	return c, c.Validate()
}

// Validate rejects settings the scheduler cannot work with.
func (c Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{KeyDebounce, c.Debounce},
		{KeyRestartDelay, c.RestartDelay},
		{KeyKillGrace, c.KillGrace},
		{KeyCrashWindow, c.CrashWindow},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if c.RestartDelay > 0 && c.Debounce > 0 && c.RestartDelay >= c.Debounce {
		errs = append(errs, fmt.Errorf("%s (%s) must be shorter than %s (%s)", KeyRestartDelay, c.RestartDelay, KeyDebounce, c.Debounce))
	}
	if c.CrashThreshold < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyCrashThreshold))
	}
	if c.MaxRestarts < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyMaxRestarts))
	}
	if c.MaxPortShifts < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMaxPortShifts))
	}
	if c.PM != "" && !pm.Valid(c.PM) {
		errs = append(errs, fmt.Errorf("unknown package manager %q", c.PM))
	}
	return errors.Join(errs...)
}

// Supervisor maps the settings onto a supervisor configuration for one run.
func (c Config) Supervisor(pmName, script string, args []string, dir string) supervisor.Config {
	return supervisor.Config{
		PM:             pmName,
		Script:         script,
		Args:           args,
		WorkDir:        dir,
		Debounce:       c.Debounce,
		RestartDelay:   c.RestartDelay,
		KillGrace:      c.KillGrace,
		CrashWindow:    c.CrashWindow,
		CrashThreshold: c.CrashThreshold,
		MaxRestarts:    c.MaxRestarts,
		MaxPortShifts:  c.MaxPortShifts,
		CleanOnStart:   c.Clean,
		CleanOnCrash:   c.Clean,
	}
}

// LoadEnvFiles reads the configured .env files in order; later files win.
func (c Config) LoadEnvFiles() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		kvs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, kvs...)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines, comments and an "export " prefix are skipped;
// surrounding quotes are stripped from values.
func LoadEnvFile(path string) ([]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out = append(out, k+"="+unquote(strings.TrimSpace(v)))
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// splitList accepts both repeated values and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
