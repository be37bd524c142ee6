package pm

import (
	"os"
	"path/filepath"
	"strings"
)

// Supported package managers.
const (
	NPM  = "npm"
	PNPM = "pnpm"
	Yarn = "yarn"
	Bun  = "bun"
)

// DefaultScript runs when no script name is given.
const DefaultScript = "dev"

var lockfiles = []struct {
	file string
	pm   string
}{
	{"pnpm-lock.yaml", PNPM},
	{"yarn.lock", Yarn},
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"package-lock.json", NPM},
}

// Valid reports whether name is a supported package manager.
func Valid(name string) bool {
	switch name {
	case NPM, PNPM, Yarn, Bun:
		return true
	}
	return false
}

// Detect picks the package manager for dir. The user agent set by the
// invoking package manager wins; otherwise the first lockfile found decides.
func Detect(dir, userAgent string) string {
	if pm := FromUserAgent(userAgent); pm != "" {
		return pm
	}
	for _, l := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, l.file)); err == nil {
			return l.pm
		}
	}
	return NPM
}

// FromUserAgent parses npm_config_user_agent ("pnpm/9.1.0 npm/? node/v20...").
// It returns "" when the agent is empty or unknown.
func FromUserAgent(ua string) string {
	for _, pm := range []string{PNPM, Yarn, Bun, NPM} {
		if strings.HasPrefix(ua, pm+"/") || ua == pm {
			return pm
		}
	}
	return ""
}

// ParseArgs splits supervisor positionals into the script name and the
// arguments forwarded to it. The first token is the script unless it is
// missing or looks like an option.
func ParseArgs(args []string) (script string, extra []string) {
	if len(args) > 0 && args[0] != "" && !strings.HasPrefix(args[0], "-") {
		return args[0], append([]string{}, args[1:]...)
	}
	return DefaultScript, append([]string{}, args...)
}

// BuildRunArgs builds "run <script> [-- extra...]". The separator is only
// added when there is something to forward.
func BuildRunArgs(script string, extra []string) []string {
	out := []string{"run", script}
	if len(extra) > 0 {
		out = append(out, "--")
		out = append(out, extra...)
	}
	return out
}

// InstallHint is the command a user would run to add a missing package.
func InstallHint(pm, module string) string {
	switch pm {
	case PNPM, Yarn, Bun:
		return pm + " add " + module
	default:
		return "npm install " + module
	}
}
